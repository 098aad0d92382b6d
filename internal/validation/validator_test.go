package validation

import (
	"errors"
	"testing"

	"github.com/hitoshi/bloodlink/internal/model"
)

func validRequest() model.DonationRequestInput {
	return model.DonationRequestInput{
		RecipientName:     "Ayesha",
		RecipientDistrict: "Dhaka",
		RecipientUpazila:  "Dhanmondi",
		HospitalName:      "Dhaka Medical College Hospital",
		FullAddress:       "Bakshibazar, Dhaka",
		BloodGroup:        "O+",
		DonationDate:      "2026-11-02",
		DonationTime:      "10:30",
		RequestMessage:    "Urgent surgery",
	}
}

func TestStruct_ValidDonationRequest(t *testing.T) {
	in := validRequest()
	if err := Struct(&in); err != nil {
		t.Fatalf("Struct() = %v, want nil", err)
	}
}

func TestStruct_DonationRequestErrors(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*model.DonationRequestInput)
		wantField string
		wantTag   string
	}{
		{"受取人名なし", func(in *model.DonationRequestInput) { in.RecipientName = "" }, "recipientName", "required"},
		{"不明な地区", func(in *model.DonationRequestInput) { in.RecipientDistrict = "Atlantis" }, "recipientDistrict", "district"},
		{"不明な血液型", func(in *model.DonationRequestInput) { in.BloodGroup = "C+" }, "bloodGroup", "bloodgroup"},
		{"日付形式", func(in *model.DonationRequestInput) { in.DonationDate = "02/11/2026" }, "donationDate", "datetime"},
		{"時刻形式", func(in *model.DonationRequestInput) { in.DonationTime = "10am" }, "donationTime", "datetime"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validRequest()
			tt.mutate(&in)

			err := Struct(&in)
			var verrs Errors
			if !errors.As(err, &verrs) {
				t.Fatalf("Struct() = %v, want Errors", err)
			}
			if len(verrs) != 1 {
				t.Fatalf("errors = %d, want 1: %v", len(verrs), verrs)
			}
			if verrs[0].Field != tt.wantField || verrs[0].Tag != tt.wantTag {
				t.Errorf("error = %+v, want field=%s tag=%s", verrs[0], tt.wantField, tt.wantTag)
			}
			if verrs[0].Message == "" {
				t.Error("message should not be empty")
			}
		})
	}
}

func TestStruct_Profile(t *testing.T) {
	ok := model.ProfileInput{Name: "Karim"}
	if err := Struct(&ok); err != nil {
		t.Errorf("minimal profile: %v", err)
	}

	bad := model.ProfileInput{Name: "", Avatar: "not a url", District: "Nowhere"}
	err := Struct(&bad)
	var verrs Errors
	if !errors.As(err, &verrs) {
		t.Fatalf("Struct() = %v, want Errors", err)
	}
	byField := verrs.ByField()
	for _, f := range []string{"name", "avatar", "district"} {
		if byField[f] == "" {
			t.Errorf("missing error for %s: %v", f, byField)
		}
	}
	if byField["name"] != "Name is required." {
		t.Errorf("name message = %q", byField["name"])
	}
}

func TestValidator_Singleton(t *testing.T) {
	if Validator() != Validator() {
		t.Error("Validator() should return the same instance")
	}
}
