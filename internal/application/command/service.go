package command

import (
	"context"

	"github.com/campus-hub/querysync/internal/domain/academic"
	"github.com/campus-hub/querysync/internal/domain/shared"
	"github.com/campus-hub/querysync/internal/infrastructure/transport"
	"github.com/campus-hub/querysync/internal/querycache/mutation"
	"github.com/campus-hub/querysync/internal/querycache/scope"
	"github.com/campus-hub/querysync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// Service creates Handles for every write of the platform.
type Service struct {
	d      *mutation.Dispatcher
	tp     transport.Transport
	events EventPublisher
	log    *logger.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithEvents publishes a MutationEvent for every settled write.
func WithEvents(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService creates a Service writing through tp.
func NewService(d *mutation.Dispatcher, tp transport.Transport, opts ...Option) *Service {
	s := &Service{d: d, tp: tp, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("command"))
	return s
}

func newHandle[Req academic.Scoped, T any](s *Service, entity scope.Entity, op shared.Op, exec func(ctx context.Context, req Req) (any, error)) *Handle[Req, T] {
	return &Handle[Req, T]{
		d:      s.d,
		entity: entity,
		op:     op,
		exec:   exec,
		events: s.events,
		log:    s.log,
	}
}

func create[Req academic.Scoped, T any](s *Service, entity scope.Entity, resource string) *Handle[Req, T] {
	return newHandle[Req, T](s, entity, shared.OpCreate, func(ctx context.Context, req Req) (any, error) {
		return transport.Post(ctx, s.tp, resource, req)
	})
}

func update[Req academic.Scoped, T any](s *Service, entity scope.Entity, resource string, id func(Req) string) *Handle[Req, T] {
	return newHandle[Req, T](s, entity, shared.OpUpdate, func(ctx context.Context, req Req) (any, error) {
		return transport.Patch(ctx, s.tp, resource, id(req), req)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// COLLEGE HIERARCHY
// ══════════════════════════════════════════════════════════════════════════════

func (s *Service) CreateAcademicYear() *Handle[academic.CreateAcademicYearRequest, academic.AcademicYear] {
	return create[academic.CreateAcademicYearRequest, academic.AcademicYear](s, scope.AcademicYear, transport.ResourceAcademicYears)
}

func (s *Service) UpdateAcademicYear() *Handle[academic.UpdateAcademicYearRequest, academic.AcademicYear] {
	return update[academic.UpdateAcademicYearRequest, academic.AcademicYear](s, scope.AcademicYear, transport.ResourceAcademicYears,
		func(r academic.UpdateAcademicYearRequest) string { return r.ID })
}

func (s *Service) CreateDepartment() *Handle[academic.CreateDepartmentRequest, academic.Department] {
	return create[academic.CreateDepartmentRequest, academic.Department](s, scope.Department, transport.ResourceDepartments)
}

func (s *Service) CreateSemester() *Handle[academic.CreateSemesterRequest, academic.Semester] {
	return create[academic.CreateSemesterRequest, academic.Semester](s, scope.Semester, transport.ResourceSemesters)
}

func (s *Service) UpdateSemester() *Handle[academic.UpdateSemesterRequest, academic.Semester] {
	return update[academic.UpdateSemesterRequest, academic.Semester](s, scope.Semester, transport.ResourceSemesters,
		func(r academic.UpdateSemesterRequest) string { return r.ID })
}

func (s *Service) CreateDivision() *Handle[academic.CreateDivisionRequest, academic.Division] {
	return create[academic.CreateDivisionRequest, academic.Division](s, scope.Division, transport.ResourceDivisions)
}

func (s *Service) CreateSubject() *Handle[academic.CreateSubjectRequest, academic.Subject] {
	return create[academic.CreateSubjectRequest, academic.Subject](s, scope.Subject, transport.ResourceSubjects)
}

func (s *Service) CreateFaculty() *Handle[academic.CreateFacultyRequest, academic.Faculty] {
	return create[academic.CreateFacultyRequest, academic.Faculty](s, scope.Faculty, transport.ResourceFaculties)
}

func (s *Service) CreateStudent() *Handle[academic.CreateStudentRequest, academic.Student] {
	return create[academic.CreateStudentRequest, academic.Student](s, scope.Student, transport.ResourceStudents)
}

// ══════════════════════════════════════════════════════════════════════════════
// TEACHING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Service) CreateCourse() *Handle[academic.CreateCourseRequest, academic.Course] {
	return create[academic.CreateCourseRequest, academic.Course](s, scope.Course, transport.ResourceCourses)
}

func (s *Service) UpdateCourse() *Handle[academic.UpdateCourseRequest, academic.Course] {
	return update[academic.UpdateCourseRequest, academic.Course](s, scope.Course, transport.ResourceCourses,
		func(r academic.UpdateCourseRequest) string { return r.ID })
}

// CreateEnrollment enrolls a student in a course. Enrolling twice fails
// with shared.ErrDuplicateEnrollment and leaves the cache untouched.
func (s *Service) CreateEnrollment() *Handle[academic.CreateEnrollmentRequest, academic.Enrollment] {
	return create[academic.CreateEnrollmentRequest, academic.Enrollment](s, scope.Enrollment, transport.ResourceEnrollments)
}

// ══════════════════════════════════════════════════════════════════════════════
// EXAMS & ATTENDANCE
// ══════════════════════════════════════════════════════════════════════════════

func (s *Service) CreateExam() *Handle[academic.CreateExamRequest, academic.Exam] {
	return create[academic.CreateExamRequest, academic.Exam](s, scope.Exam, transport.ResourceExams)
}

// UpdateExam changes an exam. Publishing it refreshes the students' result
// views.
func (s *Service) UpdateExam() *Handle[academic.UpdateExamRequest, academic.Exam] {
	return update[academic.UpdateExamRequest, academic.Exam](s, scope.Exam, transport.ResourceExams,
		func(r academic.UpdateExamRequest) string { return r.ID })
}

func (s *Service) CreateExamResult() *Handle[academic.CreateExamResultRequest, academic.ExamResult] {
	return create[academic.CreateExamResultRequest, academic.ExamResult](s, scope.ExamResult, transport.ResourceExamResults)
}

func (s *Service) RecordAttendance() *Handle[academic.RecordAttendanceRequest, academic.AttendanceRecord] {
	return create[academic.RecordAttendanceRequest, academic.AttendanceRecord](s, scope.Attendance, transport.ResourceAttendance)
}

func (s *Service) UpdateAttendance() *Handle[academic.UpdateAttendanceRequest, academic.AttendanceRecord] {
	return update[academic.UpdateAttendanceRequest, academic.AttendanceRecord](s, scope.Attendance, transport.ResourceAttendance,
		func(r academic.UpdateAttendanceRequest) string { return r.ID })
}

// ══════════════════════════════════════════════════════════════════════════════
// DELETE
// ══════════════════════════════════════════════════════════════════════════════

var resourceOf = map[scope.Entity]string{
	scope.AcademicYear: transport.ResourceAcademicYears,
	scope.Department:   transport.ResourceDepartments,
	scope.Semester:     transport.ResourceSemesters,
	scope.Division:     transport.ResourceDivisions,
	scope.Subject:      transport.ResourceSubjects,
	scope.Faculty:      transport.ResourceFaculties,
	scope.Student:      transport.ResourceStudents,
	scope.Course:       transport.ResourceCourses,
	scope.Enrollment:   transport.ResourceEnrollments,
	scope.Exam:         transport.ResourceExams,
	scope.ExamResult:   transport.ResourceExamResults,
	scope.Attendance:   transport.ResourceAttendance,
}

// Delete removes records of entity. The deleted record's answer supplies
// the parent scope when the request's Parent does not.
func (s *Service) Delete(entity scope.Entity) *Handle[academic.DeleteRequest, map[string]any] {
	return newHandle[academic.DeleteRequest, map[string]any](s, entity, shared.OpDelete,
		func(ctx context.Context, req academic.DeleteRequest) (any, error) {
			resource, ok := resourceOf[entity]
			if !ok {
				return nil, transport.UnknownResource(string(entity))
			}
			return transport.Delete(ctx, s.tp, resource, req.ID)
		})
}
