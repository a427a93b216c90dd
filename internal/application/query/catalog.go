package query

import (
	"context"
	"strconv"

	"github.com/campus-hub/querysync/internal/domain/academic"
	"github.com/campus-hub/querysync/internal/infrastructure/transport"
	ks "github.com/campus-hub/querysync/internal/querycache/keyspace"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLLEGE HIERARCHY
// ══════════════════════════════════════════════════════════════════════════════

func (s *Service) Colleges() (View[[]academic.College], error) {
	return listView[academic.College](s, ks.Colleges, transport.ResourceColleges, nil)
}

func (s *Service) AcademicYears(collegeID string) (View[[]academic.AcademicYear], error) {
	return listView[academic.AcademicYear](s, ks.AcademicYears, transport.ResourceAcademicYears,
		ks.Params{ks.ParamCollegeID: collegeID})
}

// ActiveAcademicYear returns the college's active year, or nil when none
// is marked active.
func (s *Service) ActiveAcademicYear(collegeID string) (View[*academic.AcademicYear], error) {
	years := list[academic.AcademicYear](s, transport.ResourceAcademicYears, map[string]string{
		ks.ParamCollegeID: collegeID,
		"isActive":        "true",
	})
	return newView(s, ks.ActiveAcademicYear, ks.Params{ks.ParamCollegeID: collegeID},
		func(ctx context.Context) (*academic.AcademicYear, error) {
			ys, err := years(ctx)
			if err != nil || len(ys) == 0 {
				return nil, err
			}
			return &ys[0], nil
		})
}

func (s *Service) Departments(collegeID string) (View[[]academic.Department], error) {
	return listView[academic.Department](s, ks.Departments, transport.ResourceDepartments,
		ks.Params{ks.ParamCollegeID: collegeID})
}

func (s *Service) Semesters(departmentID, academicYearID string) (View[[]academic.Semester], error) {
	return listView[academic.Semester](s, ks.Semesters, transport.ResourceSemesters, ks.Params{
		ks.ParamDepartmentID:   departmentID,
		ks.ParamAcademicYearID: academicYearID,
	})
}

func (s *Service) Divisions(semesterID string) (View[[]academic.Division], error) {
	return listView[academic.Division](s, ks.Divisions, transport.ResourceDivisions,
		ks.Params{ks.ParamSemesterID: semesterID})
}

// Subjects lists the subjects a department teaches in a semester number.
func (s *Service) Subjects(departmentID string, semesterNumber int) (View[[]academic.Subject], error) {
	n := ""
	if semesterNumber > 0 {
		n = strconv.Itoa(semesterNumber)
	}
	return listView[academic.Subject](s, ks.Subjects, transport.ResourceSubjects, ks.Params{
		ks.ParamDepartmentID:   departmentID,
		ks.ParamSemesterNumber: n,
	})
}

func (s *Service) Faculties(departmentID string) (View[[]academic.Faculty], error) {
	return listView[academic.Faculty](s, ks.Faculties, transport.ResourceFaculties,
		ks.Params{ks.ParamDepartmentID: departmentID})
}

func (s *Service) Students(divisionID string) (View[[]academic.Student], error) {
	return listView[academic.Student](s, ks.Students, transport.ResourceStudents,
		ks.Params{ks.ParamDivisionID: divisionID})
}

// ══════════════════════════════════════════════════════════════════════════════
// TEACHING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Service) Courses(divisionID string) (View[[]academic.Course], error) {
	return listView[academic.Course](s, ks.Courses, transport.ResourceCourses,
		ks.Params{ks.ParamDivisionID: divisionID})
}

// Enrollments lists the students enrolled in a course.
func (s *Service) Enrollments(courseID string) (View[[]academic.Enrollment], error) {
	return listView[academic.Enrollment](s, ks.Enrollments, transport.ResourceEnrollments,
		ks.Params{ks.ParamCourseID: courseID})
}
