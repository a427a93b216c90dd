package academic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-hub/querysync/internal/domain/shared"
)

func TestValidate(t *testing.T) {
	ok := CreateSemesterRequest{
		SemesterNumber: 3,
		SemesterType:   SemesterOdd,
		DepartmentID:   "d1",
		AcademicYearID: "y1",
	}
	require.NoError(t, Validate(ok))

	bad := ok
	bad.SemesterType = "SUMMER"
	bad.DepartmentID = ""
	err := Validate(bad)
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	assert.Contains(t, err.Error(), "departmentId is required")
	assert.Contains(t, err.Error(), "semesterType must be one of")
}

func TestValidate_CustomTags(t *testing.T) {
	err := Validate(CreateDivisionRequest{Name: "   ", SemesterID: "s1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name cannot be blank")

	err = Validate(RecordAttendanceRequest{
		CourseID:  "c1",
		StudentID: "st1",
		Date:      "02/09/2024",
		Status:    AttendancePresent,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "date must be a date")
}

func TestScope(t *testing.T) {
	req := RecordAttendanceRequest{CourseID: "c1", StudentID: "st1", SemesterID: "sem1", Date: "2024-09-02"}
	assert.Equal(t, map[string]string{
		"courseId":   "c1",
		"date":       "2024-09-02",
		"studentId":  "st1",
		"semesterId": "sem1",
	}, req.Scope())

	del := DeleteRequest{ID: "c1", Parent: map[string]string{"divisionId": "divA", "id": "ignored"}}
	assert.Equal(t, map[string]string{"divisionId": "divA", "id": "c1"}, del.Scope())

	sub := CreateSubjectRequest{DepartmentID: "d1", SemesterNumber: 5}
	assert.Equal(t, "5", sub.Scope()["semesterNumber"])
}

func TestSummarize(t *testing.T) {
	got := Summarize([]AttendanceRecord{
		{CourseID: "c1", Status: AttendancePresent},
		{CourseID: "c1", Status: AttendanceAbsent},
		{CourseID: "c1", Status: AttendanceMedicalLeave},
		{CourseID: "c1", Status: AttendanceAbsent},
		{CourseID: "c2", Status: AttendancePresent},
		{CourseID: "c2", Status: AttendanceAbsent, Audit: Audit{IsDeleted: true}},
	})

	require.Len(t, got, 2)
	assert.Equal(t, AttendanceSummary{CourseID: "c1", PresentCount: 2, AbsentCount: 2, TotalLectures: 4, Percentage: 50}, got[0])
	assert.Equal(t, 100.0, got[1].Percentage)
}

func TestNaturalKeys(t *testing.T) {
	a := Enrollment{ID: "1", CourseID: "c1", StudentID: "st1"}
	b := Enrollment{ID: "2", CourseID: "c1", StudentID: "st1"}
	assert.Equal(t, a.NaturalKey(), b.NaturalKey())

	s1 := Semester{DepartmentID: "d1", AcademicYearID: "y1", SemesterNumber: 1}
	s2 := Semester{DepartmentID: "d1", AcademicYearID: "y1", SemesterNumber: 2}
	assert.NotEqual(t, s1.NaturalKey(), s2.NaturalKey())
}
