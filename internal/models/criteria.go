package models

// Criterion identifies one of the tracked clinical-status booleans.
type Criterion int

// Criteria in report order. The order is fixed and never re-sorted by value.
const (
	CriterionMedicalRecordsComplete Criterion = iota
	CriterionBPAtGoal
	CriterionHospitalVisitSinceLastReview
	CriterionA1CAtGoal
	CriterionFallSinceLastVisit
	CriterionUseBenzo
	CriterionUseOpioids
	CriterionUseAntipsychotics

	CriterionCount = 8
)

var criterionKeys = [CriterionCount]string{
	"medicalRecordsComplete",
	"bpAtGoal",
	"hospitalVisitSinceLastReview",
	"a1cAtGoal",
	"fallSinceLastVisit",
	"useBenzo",
	"useOpioids",
	"useAntipsychotics",
}

var criterionLabels = [CriterionCount]string{
	"Medical Records Complete",
	"BP at Goal",
	"Hospital Visit Since Last Review",
	"A1C at Goal",
	"Fall Since Last Visit",
	"Uses Benzodiazepines",
	"Uses Opioids",
	"Uses Antipsychotics",
}

// AllCriteria lists every criterion in report order.
var AllCriteria = [CriterionCount]Criterion{
	CriterionMedicalRecordsComplete,
	CriterionBPAtGoal,
	CriterionHospitalVisitSinceLastReview,
	CriterionA1CAtGoal,
	CriterionFallSinceLastVisit,
	CriterionUseBenzo,
	CriterionUseOpioids,
	CriterionUseAntipsychotics,
}

// CriterionNames returns the criterion keys in report order.
func CriterionNames() []string {
	names := make([]string, CriterionCount)
	copy(names, criterionKeys[:])
	return names
}

// Key is the camelCase identifier used on the wire.
func (c Criterion) Key() string {
	if c < 0 || int(c) >= CriterionCount {
		return ""
	}
	return criterionKeys[c]
}

// Label is the human readable name used in reports and exports.
func (c Criterion) Label() string {
	if c < 0 || int(c) >= CriterionCount {
		return ""
	}
	return criterionLabels[c]
}

// CriteriaValues holds one resolved boolean per criterion, indexed by Criterion.
type CriteriaValues [CriterionCount]bool

// CriteriaFlags is the nullable criterion payload carried by patients and snapshots.
type CriteriaFlags struct {
	MedicalRecordsComplete       *bool `db:"medical_records_complete" json:"medicalRecordsComplete,omitempty"`
	BPAtGoal                     *bool `db:"bp_at_goal" json:"bpAtGoal,omitempty"`
	HospitalVisitSinceLastReview *bool `db:"hospital_visit_since_last_review" json:"hospitalVisitSinceLastReview,omitempty"`
	A1CAtGoal                    *bool `db:"a1c_at_goal" json:"a1cAtGoal,omitempty"`
	FallSinceLastVisit           *bool `db:"fall_since_last_visit" json:"fallSinceLastVisit,omitempty"`
	UseBenzo                     *bool `db:"use_benzo" json:"useBenzo,omitempty"`
	UseOpioids                   *bool `db:"use_opioids" json:"useOpioids,omitempty"`
	UseAntipsychotics            *bool `db:"use_antipsychotics" json:"useAntipsychotics,omitempty"`
}

// Values flattens the flags into report order. Missing values read as false.
func (f CriteriaFlags) Values() CriteriaValues {
	return CriteriaValues{
		isTrue(f.MedicalRecordsComplete),
		isTrue(f.BPAtGoal),
		isTrue(f.HospitalVisitSinceLastReview),
		isTrue(f.A1CAtGoal),
		isTrue(f.FallSinceLastVisit),
		isTrue(f.UseBenzo),
		isTrue(f.UseOpioids),
		isTrue(f.UseAntipsychotics),
	}
}

func isTrue(v *bool) bool {
	return v != nil && *v
}
