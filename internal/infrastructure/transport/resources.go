package transport

import (
	"strings"

	"github.com/campus-hub/querysync/internal/domain/shared"
)

// Resource names.
const (
	ResourceColleges      = "colleges"
	ResourceAcademicYears = "academic-years"
	ResourceDepartments   = "departments"
	ResourceSemesters     = "semesters"
	ResourceDivisions     = "divisions"
	ResourceSubjects      = "subjects"
	ResourceFaculties     = "faculties"
	ResourceStudents      = "students"
	ResourceCourses       = "courses"
	ResourceEnrollments   = "enrollments"
	ResourceExams         = "exams"
	ResourceExamResults   = "exam-results"
	ResourceAttendance    = "attendance"
)

// ResourceSpec describes how a backend stores one resource.
type ResourceSpec struct {
	Name string
	// Unique lists the fields whose values identify a live record. Empty
	// means no natural key.
	Unique []string
	// Duplicate is returned when a write would break Unique.
	Duplicate error
}

// NaturalKey returns the natural key of fields, or "" when the resource
// has none.
func (s ResourceSpec) NaturalKey(fields map[string]any) string {
	if len(s.Unique) == 0 {
		return ""
	}
	parts := make([]string, len(s.Unique))
	for i, f := range s.Unique {
		parts[i] = FieldString(fields[f])
	}
	return strings.Join(parts, "|")
}

var resources = map[string]ResourceSpec{
	ResourceColleges:      {Name: ResourceColleges, Unique: []string{"abbreviation"}, Duplicate: duplicate("college", "abbreviation already taken")},
	ResourceAcademicYears: {Name: ResourceAcademicYears, Unique: []string{"collegeId", "year"}, Duplicate: duplicate("academicYear", "year already exists for college")},
	ResourceDepartments:   {Name: ResourceDepartments, Unique: []string{"collegeId", "abbreviation"}, Duplicate: duplicate("department", "abbreviation already taken in college")},
	ResourceSemesters:     {Name: ResourceSemesters, Unique: []string{"departmentId", "academicYearId", "semesterNumber"}, Duplicate: shared.ErrDuplicateSemester},
	ResourceDivisions:     {Name: ResourceDivisions, Unique: []string{"semesterId", "name"}, Duplicate: duplicate("division", "division name already used in semester")},
	ResourceSubjects:      {Name: ResourceSubjects, Unique: []string{"departmentId", "code"}, Duplicate: duplicate("subject", "subject code already used in department")},
	ResourceFaculties:     {Name: ResourceFaculties, Unique: []string{"email"}, Duplicate: duplicate("faculty", "email already registered")},
	ResourceStudents:      {Name: ResourceStudents, Unique: []string{"enrollmentNumber"}, Duplicate: duplicate("student", "enrollment number already registered")},
	ResourceCourses:       {Name: ResourceCourses, Unique: []string{"subjectId", "divisionId", "semesterId", "lectureType", "batch"}, Duplicate: shared.ErrDuplicateCourse},
	ResourceEnrollments:   {Name: ResourceEnrollments, Unique: []string{"courseId", "studentId"}, Duplicate: shared.ErrDuplicateEnrollment},
	ResourceExams:         {Name: ResourceExams},
	ResourceExamResults:   {Name: ResourceExamResults, Unique: []string{"examId", "studentEnrollmentNumber"}, Duplicate: shared.ErrDuplicateExamResult},
	ResourceAttendance:    {Name: ResourceAttendance, Unique: []string{"courseId", "studentId", "date"}, Duplicate: shared.ErrDuplicateAttendance},
}

func duplicate(domain, msg string) error {
	return shared.NewDomainError(domain, "Create", shared.ErrAlreadyExists, msg)
}

// Spec returns the spec of resource.
func Spec(resource string) (ResourceSpec, bool) {
	s, ok := resources[resource]
	return s, ok
}

// Resources returns every resource spec.
func Resources() []ResourceSpec {
	out := make([]ResourceSpec, 0, len(resources))
	for _, name := range []string{
		ResourceColleges, ResourceAcademicYears, ResourceDepartments, ResourceSemesters,
		ResourceDivisions, ResourceSubjects, ResourceFaculties, ResourceStudents,
		ResourceCourses, ResourceEnrollments, ResourceExams, ResourceExamResults, ResourceAttendance,
	} {
		out = append(out, resources[name])
	}
	return out
}

// UnknownResource is the error for a resource without a spec.
func UnknownResource(resource string) error {
	return shared.NewDomainError("transport", "Do", shared.ErrNotFound, "unknown resource "+resource)
}
