package query

import (
	"context"

	"github.com/campus-hub/querysync/internal/domain/academic"
	"github.com/campus-hub/querysync/internal/infrastructure/transport"
	ks "github.com/campus-hub/querysync/internal/querycache/keyspace"
	"github.com/campus-hub/querysync/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ATTENDANCE
// ══════════════════════════════════════════════════════════════════════════════

// Attendance lists the marks of a course for one day.
func (s *Service) Attendance(courseID, date string) (View[[]academic.AttendanceRecord], error) {
	if date != "" {
		d, err := timeutil.NormalizeDateKey(date)
		if err != nil {
			return View[[]academic.AttendanceRecord]{}, err
		}
		date = d
	}
	return listView[academic.AttendanceRecord](s, ks.AttendanceByCourse, transport.ResourceAttendance, ks.Params{
		ks.ParamCourseID: courseID,
		ks.ParamDate:     date,
	})
}

// AttendanceSummary summarises a student's attendance per course of a
// semester.
func (s *Service) AttendanceSummary(studentID, semesterID string) (View[[]academic.AttendanceSummary], error) {
	return newView(s, ks.AttendanceSummary, ks.Params{
		ks.ParamStudentID:  studentID,
		ks.ParamSemesterID: semesterID,
	}, s.summarize(studentID, semesterID))
}

// MyAttendanceSummary is AttendanceSummary for the session student.
func (s *Service) MyAttendanceSummary(semesterID string) (View[[]academic.AttendanceSummary], error) {
	actor, err := s.student("MyAttendanceSummary")
	if err != nil {
		return View[[]academic.AttendanceSummary]{}, err
	}
	return newView(s, ks.MyAttendanceSummary, ks.Params{ks.ParamSemesterID: semesterID},
		s.summarize(actor.StudentID, semesterID))
}

// AttendanceSummaryFor picks the view by role: students always get their
// own summary, staff get the requested student's.
func (s *Service) AttendanceSummaryFor(studentID, semesterID string) (View[[]academic.AttendanceSummary], error) {
	if s.Actor().IsStudent() {
		return s.MyAttendanceSummary(semesterID)
	}
	return s.AttendanceSummary(studentID, semesterID)
}

// summarize restricts the student's marks to the semester's courses.
func (s *Service) summarize(studentID, semesterID string) func(ctx context.Context) ([]academic.AttendanceSummary, error) {
	courses := list[academic.Course](s, transport.ResourceCourses, map[string]string{ks.ParamSemesterID: semesterID})
	marks := list[academic.AttendanceRecord](s, transport.ResourceAttendance, map[string]string{ks.ParamStudentID: studentID})

	return func(ctx context.Context) ([]academic.AttendanceSummary, error) {
		cs, err := courses(ctx)
		if err != nil {
			return nil, err
		}
		inSemester := make(map[string]bool, len(cs))
		for _, c := range cs {
			inSemester[c.ID] = true
		}

		records, err := marks(ctx)
		if err != nil {
			return nil, err
		}
		kept := records[:0]
		for _, r := range records {
			if inSemester[r.CourseID] {
				kept = append(kept, r)
			}
		}
		return academic.Summarize(kept), nil
	}
}
