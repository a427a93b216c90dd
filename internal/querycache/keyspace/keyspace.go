// Package keyspace builds canonical query keys for every cached view.
//
// A key is an ordered token sequence: the entity type first, then its scope
// parameters in a fixed order. Key A is an ancestor of key B when A's tokens
// are a prefix of B's, which is what makes hierarchical invalidation work:
// invalidating ["semesters", "d1"] covers every semester list of department d1.
package keyspace

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/campus-hub/querysync/internal/domain/shared"
)

// EntityType names a family of cached views.
type EntityType string

const (
	Colleges            EntityType = "colleges"
	AcademicYears       EntityType = "academicYears"
	ActiveAcademicYear  EntityType = "active-academic-year"
	Departments         EntityType = "departments"
	Semesters           EntityType = "semesters"
	Divisions           EntityType = "divisions"
	Subjects            EntityType = "subjects"
	Faculties           EntityType = "faculties"
	Students            EntityType = "students"
	Courses             EntityType = "courses"
	Enrollments         EntityType = "enrollments"
	Exams               EntityType = "exams"
	ExamResultsByExam   EntityType = "examResults:byExam"
	ExamResultDetail    EntityType = "examResults:detail"
	MyExamResults       EntityType = "my-exam-results"
	AttendanceByCourse  EntityType = "attendance:byCourse"
	AttendanceSummary   EntityType = "attendance-summary"
	MyAttendanceSummary EntityType = "my-attendance-summary"
)

// Scope parameter names. They match the field names used in mutation payloads.
const (
	ParamCollegeID      = "collegeId"
	ParamDepartmentID   = "departmentId"
	ParamAcademicYearID = "academicYearId"
	ParamSemesterID     = "semesterId"
	ParamSemesterNumber = "semesterNumber"
	ParamDivisionID     = "divisionId"
	ParamCourseID       = "courseId"
	ParamExamID         = "examId"
	ParamStudentID      = "studentId"
	ParamID             = "id"
	ParamDate           = "date"
)

// Params holds scope parameter values by name. Order of insertion is
// irrelevant; KeyFor reads them in the documented order of the entity type.
type Params map[string]string

// Merge returns a new Params with other's non-empty values layered over p.
func (p Params) Merge(other Params) Params {
	out := make(Params, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Get returns the trimmed value of name.
func (p Params) Get(name string) string {
	return strings.TrimSpace(p[name])
}

// shape describes how an entity type becomes tokens.
type shape struct {
	// tokens precede the parameters.
	tokens []string
	// params are read from Params in this order.
	params []string
	// personal marks "my own records" views. They never carry the caller's
	// identity in the key; the server derives it from the session.
	personal bool
}

var shapes = map[EntityType]shape{
	Colleges:            {tokens: []string{"colleges"}},
	AcademicYears:       {tokens: []string{"academicYears"}, params: []string{ParamCollegeID}},
	ActiveAcademicYear:  {tokens: []string{"active-academic-year"}, params: []string{ParamCollegeID}},
	Departments:         {tokens: []string{"departments"}, params: []string{ParamCollegeID}},
	Semesters:           {tokens: []string{"semesters"}, params: []string{ParamDepartmentID, ParamAcademicYearID}},
	Divisions:           {tokens: []string{"divisions"}, params: []string{ParamSemesterID}},
	Subjects:            {tokens: []string{"subjects"}, params: []string{ParamDepartmentID, ParamSemesterNumber}},
	Faculties:           {tokens: []string{"faculties"}, params: []string{ParamDepartmentID}},
	Students:            {tokens: []string{"students"}, params: []string{ParamDivisionID}},
	Courses:             {tokens: []string{"courses"}, params: []string{ParamDivisionID}},
	Enrollments:         {tokens: []string{"enrollments"}, params: []string{ParamCourseID}},
	Exams:               {tokens: []string{"exams"}, params: []string{ParamSemesterID}},
	ExamResultsByExam:   {tokens: []string{"examResults", "exam"}, params: []string{ParamExamID}},
	ExamResultDetail:    {tokens: []string{"examResults", "detail"}, params: []string{ParamID}},
	MyExamResults:       {tokens: []string{"my-exam-results"}, personal: true},
	AttendanceByCourse:  {tokens: []string{"attendance", "course"}, params: []string{ParamCourseID, ParamDate}},
	AttendanceSummary:   {tokens: []string{"attendance-summary"}, params: []string{ParamStudentID, ParamSemesterID}},
	MyAttendanceSummary: {tokens: []string{"my-attendance-summary"}, params: []string{ParamSemesterID}, personal: true},
}

// Known reports whether et is a registered entity type.
func Known(et EntityType) bool {
	_, ok := shapes[et]
	return ok
}

// ParamsOf returns the ordered parameter names of et.
func ParamsOf(et EntityType) []string {
	s, ok := shapes[et]
	if !ok {
		return nil
	}
	return append([]string(nil), s.params...)
}

// ═══════════════════════════════════════════════════════════════════════════════
// QUERY KEY
// ═══════════════════════════════════════════════════════════════════════════════

// QueryKey is an immutable ordered token sequence.
type QueryKey struct {
	tokens []string
}

// Root is the empty key. It is an ancestor of every key.
func Root() QueryKey { return QueryKey{} }

// FromTokens builds a key from raw tokens, e.g. when decoding a remote
// invalidation event.
func FromTokens(tokens ...string) QueryKey {
	return QueryKey{tokens: append([]string(nil), tokens...)}
}

// KeyFor builds the canonical key of et for params. Every parameter of the
// entity type must be present and non-empty.
func KeyFor(et EntityType, params Params) (QueryKey, error) {
	s, ok := shapes[et]
	if !ok {
		return QueryKey{}, fmt.Errorf("keyspace: unknown entity type %q: %w", et, shared.ErrInvalidKey)
	}

	tokens := make([]string, 0, len(s.tokens)+len(s.params))
	tokens = append(tokens, s.tokens...)
	for _, name := range s.params {
		v := params.Get(name)
		if v == "" {
			return QueryKey{}, fmt.Errorf("keyspace: %s requires %s: %w", et, name, shared.ErrInvalidKey)
		}
		tokens = append(tokens, v)
	}
	return QueryKey{tokens: tokens}, nil
}

// MustKeyFor is KeyFor for call sites with statically known params.
func MustKeyFor(et EntityType, params Params) QueryKey {
	k, err := KeyFor(et, params)
	if err != nil {
		panic(err)
	}
	return k
}

// Ancestor builds the longest key prefix of et that params can fill: the
// static tokens followed by leading parameters up to the first missing one.
// It also returns the names of the parameters that could not be filled.
// An unknown entity type yields Root.
func Ancestor(et EntityType, params Params) (QueryKey, []string) {
	s, ok := shapes[et]
	if !ok {
		return Root(), nil
	}

	tokens := append([]string(nil), s.tokens...)
	var missing []string
	for i, name := range s.params {
		v := params.Get(name)
		if v == "" {
			for _, rest := range s.params[i:] {
				if params.Get(rest) == "" {
					missing = append(missing, rest)
				}
			}
			break
		}
		tokens = append(tokens, v)
	}
	return QueryKey{tokens: tokens}, missing
}

// EntityRoot returns the static prefix of et, e.g. ["examResults", "exam"].
func EntityRoot(et EntityType) QueryKey {
	k, _ := Ancestor(et, nil)
	return k
}

// Tokens returns a copy of the key's tokens.
func (k QueryKey) Tokens() []string {
	return append([]string(nil), k.tokens...)
}

// Len returns the number of tokens.
func (k QueryKey) Len() int { return len(k.tokens) }

// Family returns the first token, used as a low-cardinality metrics label.
func (k QueryKey) Family() string {
	if len(k.tokens) == 0 {
		return "root"
	}
	return k.tokens[0]
}

// IsRoot reports whether k is the empty key.
func (k QueryKey) IsRoot() bool { return len(k.tokens) == 0 }

// Hash returns the canonical string form. Equal keys always produce the
// same hash, and the encoding is injective (tokens may contain any byte).
func (k QueryKey) Hash() string {
	if k.tokens == nil {
		return "[]"
	}
	b, _ := json.Marshal(k.tokens)
	return string(b)
}

// String implements fmt.Stringer.
func (k QueryKey) String() string { return k.Hash() }

// Equal reports structural equality.
func (k QueryKey) Equal(other QueryKey) bool {
	if len(k.tokens) != len(other.tokens) {
		return false
	}
	for i := range k.tokens {
		if k.tokens[i] != other.tokens[i] {
			return false
		}
	}
	return true
}

// IsAncestorOf reports whether k's tokens are a prefix of other's. Every key
// is its own ancestor.
func (k QueryKey) IsAncestorOf(other QueryKey) bool {
	if len(k.tokens) > len(other.tokens) {
		return false
	}
	for i := range k.tokens {
		if k.tokens[i] != other.tokens[i] {
			return false
		}
	}
	return true
}

// IsPersonal reports whether k belongs to a "my own records" view.
func (k QueryKey) IsPersonal() bool {
	if len(k.tokens) == 0 {
		return false
	}
	for _, s := range shapes {
		if s.personal && s.tokens[0] == k.tokens[0] {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the key as its token array.
func (k QueryKey) MarshalJSON() ([]byte, error) {
	return []byte(k.Hash()), nil
}

// UnmarshalJSON decodes a token array.
func (k *QueryKey) UnmarshalJSON(b []byte) error {
	var tokens []string
	if err := json.Unmarshal(b, &tokens); err != nil {
		return fmt.Errorf("keyspace: decode key: %w", err)
	}
	k.tokens = tokens
	return nil
}

// ParseHash decodes the output of Hash.
func ParseHash(s string) (QueryKey, error) {
	var k QueryKey
	if err := k.UnmarshalJSON([]byte(s)); err != nil {
		return QueryKey{}, err
	}
	return k, nil
}

// Keys converts raw token slices into keys.
func Keys(raw [][]string) []QueryKey {
	out := make([]QueryKey, len(raw))
	for i, toks := range raw {
		out[i] = FromTokens(toks...)
	}
	return out
}

// Raw converts keys into raw token slices.
func Raw(keys []QueryKey) [][]string {
	out := make([][]string, len(keys))
	for i, k := range keys {
		out[i] = k.Tokens()
	}
	return out
}
