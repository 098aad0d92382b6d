package model

// RemoteState はリモート呼び出し1回分のライフサイクル。
type RemoteState int

const (
	RemoteIdle RemoteState = iota
	RemoteLoading
	RemoteSuccess
	RemoteFailure
)

// String はテンプレートやログ用の状態名を返す。
func (s RemoteState) String() string {
	switch s {
	case RemoteLoading:
		return "loading"
	case RemoteSuccess:
		return "success"
	case RemoteFailure:
		return "failure"
	default:
		return "idle"
	}
}

// Remote はリモート呼び出しの結果をタグ付きで保持する。
// 値とエラーは状態に応じてどちらか一方だけが意味を持つ。
// フィールドは非公開で、コンストラクタ経由でのみ状態を作れる。
type Remote[T any] struct {
	state RemoteState
	value T
	err   string
}

// Idle はまだ何も要求していない状態を返す。
func Idle[T any]() Remote[T] { return Remote[T]{state: RemoteIdle} }

// Loading は呼び出し中の状態を返す。
func Loading[T any]() Remote[T] { return Remote[T]{state: RemoteLoading} }

// Succeeded は成功状態を返す。
func Succeeded[T any](v T) Remote[T] { return Remote[T]{state: RemoteSuccess, value: v} }

// Failed は失敗状態を返す。msgは利用者に表示する文言。
func Failed[T any](msg string) Remote[T] { return Remote[T]{state: RemoteFailure, err: msg} }

// FromResult は呼び出し結果から状態を作る。
// errがnilでなければUserMessageで変換した文言を持つ失敗状態になる。
func FromResult[T any](v T, err error, fallback string) Remote[T] {
	if err != nil {
		return Failed[T](UserMessage(err, fallback))
	}
	return Succeeded(v)
}

func (r Remote[T]) State() RemoteState { return r.state }
func (r Remote[T]) IsIdle() bool       { return r.state == RemoteIdle }
func (r Remote[T]) IsLoading() bool    { return r.state == RemoteLoading }
func (r Remote[T]) IsSuccess() bool    { return r.state == RemoteSuccess }
func (r Remote[T]) IsFailure() bool    { return r.state == RemoteFailure }

// Value は成功時の値を返す。成功以外ではゼロ値。
func (r Remote[T]) Value() T {
	if r.state != RemoteSuccess {
		var zero T
		return zero
	}
	return r.value
}

// Error は失敗時の表示用メッセージを返す。失敗以外では空文字。
func (r Remote[T]) Error() string {
	if r.state != RemoteFailure {
		return ""
	}
	return r.err
}
