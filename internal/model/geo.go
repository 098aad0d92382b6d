package model

import "sort"

// Districts はバングラデシュの64県。所在地の選択肢に使う。
// ウパジラ（郡）は自由入力とする。
var Districts = []string{
	"Bagerhat", "Bandarban", "Barguna", "Barishal", "Bhola", "Bogura",
	"Brahmanbaria", "Chandpur", "Chapai Nawabganj", "Chattogram", "Chuadanga", "Cox's Bazar",
	"Cumilla", "Dhaka", "Dinajpur", "Faridpur", "Feni", "Gaibandha",
	"Gazipur", "Gopalganj", "Habiganj", "Jamalpur", "Jashore", "Jhalokati",
	"Jhenaidah", "Joypurhat", "Khagrachhari", "Khulna", "Kishoreganj", "Kurigram",
	"Kushtia", "Lakshmipur", "Lalmonirhat", "Madaripur", "Magura", "Manikganj",
	"Meherpur", "Moulvibazar", "Munshiganj", "Mymensingh", "Naogaon", "Narail",
	"Narayanganj", "Narsingdi", "Natore", "Netrokona", "Nilphamari", "Noakhali",
	"Pabna", "Panchagarh", "Patuakhali", "Pirojpur", "Rajbari", "Rajshahi",
	"Rangamati", "Rangpur", "Satkhira", "Shariatpur", "Sherpur", "Sirajganj",
	"Sunamganj", "Sylhet", "Tangail", "Thakurgaon",
}

// IsDistrict は県名が一覧に含まれるかを返す。
func IsDistrict(name string) bool {
	i := sort.SearchStrings(Districts, name)
	return i < len(Districts) && Districts[i] == name
}

// IsBloodGroup は血液型が受け付け可能な値かを返す。
func IsBloodGroup(bg string) bool {
	for _, g := range BloodGroups {
		if g == bg {
			return true
		}
	}
	return false
}
