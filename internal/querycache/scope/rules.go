package scope

import (
	"github.com/campus-hub/querysync/internal/domain/shared"
	ks "github.com/campus-hub/querysync/internal/querycache/keyspace"
)

// Entity names a writable record type.
type Entity string

const (
	AcademicYear Entity = "academicYear"
	Department   Entity = "department"
	Semester     Entity = "semester"
	Division     Entity = "division"
	Subject      Entity = "subject"
	Faculty      Entity = "faculty"
	Student      Entity = "student"
	Course       Entity = "course"
	Enrollment   Entity = "enrollment"
	Exam         Entity = "exam"
	ExamResult   Entity = "examResult"
	Attendance   Entity = "attendance"
)

// Pattern is an invalidation target: an entity type whose key is filled
// from the mutation's scope params. Rename maps a key param to the payload
// field that fills it, e.g. the "id" of a course becomes the "courseId" of
// its enrollment list. Broad patterns always invalidate the whole entity
// type because the payload cannot name the affected keys. Prefix patterns
// stop at the first missing param on purpose, e.g. every day of a course's
// attendance.
type Pattern struct {
	Type   ks.EntityType
	Rename map[string]string
	Broad  bool
	Prefix bool
}

func p(et ks.EntityType) Pattern { return Pattern{Type: et} }

func broad(et ks.EntityType) Pattern { return Pattern{Type: et, Broad: true} }

func pr(et ks.EntityType, rename map[string]string) Pattern {
	return Pattern{Type: et, Rename: rename}
}

func prefix(pt Pattern) Pattern {
	pt.Prefix = true
	return pt
}

// rule lists patterns per operation.
type rule map[shared.Op][]Pattern

var (
	create = shared.OpCreate
	update = shared.OpUpdate
	del    = shared.OpDelete
)

// rules is the invalidation table. Each entity lists, per operation, the
// views a committed write of that operation can change.
var rules = map[Entity]rule{
	AcademicYear: {
		create: {p(ks.AcademicYears)},
		update: {p(ks.AcademicYears), p(ks.ActiveAcademicYear)},
		del:    {p(ks.AcademicYears), p(ks.ActiveAcademicYear)},
	},
	Department: {
		create: {p(ks.Departments)},
		update: {p(ks.Departments)},
		del:    {p(ks.Departments)},
	},
	Semester: {
		create: {p(ks.Semesters)},
		// Course lists are keyed by division and staff summaries lead with
		// the student, neither of which a semester payload carries.
		update: {
			p(ks.Semesters),
			pr(ks.Exams, idAs(ks.ParamSemesterID)),
			pr(ks.MyAttendanceSummary, idAs(ks.ParamSemesterID)),
			broad(ks.Courses),
			broad(ks.AttendanceSummary),
		},
		del: {
			p(ks.Semesters),
			pr(ks.Divisions, idAs(ks.ParamSemesterID)),
			pr(ks.Exams, idAs(ks.ParamSemesterID)),
			pr(ks.MyAttendanceSummary, idAs(ks.ParamSemesterID)),
			broad(ks.Courses),
			broad(ks.AttendanceSummary),
		},
	},
	Division: {
		create: {p(ks.Divisions)},
		update: {p(ks.Divisions)},
		del: {
			p(ks.Divisions),
			pr(ks.Courses, idAs(ks.ParamDivisionID)),
			pr(ks.Students, idAs(ks.ParamDivisionID)),
		},
	},
	Subject: {
		create: {p(ks.Subjects)},
		update: {p(ks.Subjects)},
		del:    {p(ks.Subjects)},
	},
	Faculty: {
		create: {p(ks.Faculties)},
		update: {p(ks.Faculties)},
		del:    {p(ks.Faculties)},
	},
	Student: {
		create: {p(ks.Students)},
		update: {p(ks.Students)},
		del:    {p(ks.Students)},
	},
	Course: {
		create: {p(ks.Courses)},
		update: {p(ks.Courses)},
		del: {
			p(ks.Courses),
			pr(ks.Enrollments, idAs(ks.ParamCourseID)),
			prefix(pr(ks.AttendanceByCourse, idAs(ks.ParamCourseID))),
		},
	},
	Enrollment: {
		create: {p(ks.Enrollments)},
		update: {p(ks.Enrollments)},
		del:    {p(ks.Enrollments)},
	},
	Exam: {
		create: {p(ks.Exams)},
		update: {p(ks.Exams), p(ks.MyExamResults)},
		del: {
			p(ks.Exams),
			pr(ks.ExamResultsByExam, idAs(ks.ParamExamID)),
		},
	},
	ExamResult: {
		create: {p(ks.ExamResultsByExam), p(ks.MyExamResults)},
		update: {p(ks.ExamResultsByExam), p(ks.MyExamResults), p(ks.ExamResultDetail)},
		del:    {p(ks.ExamResultsByExam), p(ks.MyExamResults), p(ks.ExamResultDetail)},
	},
	Attendance: {
		create: {p(ks.AttendanceByCourse), p(ks.MyAttendanceSummary), p(ks.AttendanceSummary)},
		update: {p(ks.AttendanceByCourse), p(ks.MyAttendanceSummary), p(ks.AttendanceSummary)},
	},
}

// idAs maps the record's own "id" onto a child list's scope param.
func idAs(param string) map[string]string {
	return map[string]string{param: ks.ParamID}
}

// Entities returns every entity with rules.
func Entities() []Entity {
	return []Entity{
		AcademicYear, Department, Semester, Division, Subject, Faculty,
		Student, Course, Enrollment, Exam, ExamResult, Attendance,
	}
}

// Patterns returns the patterns registered for entity and op.
func Patterns(entity Entity, op shared.Op) []Pattern {
	r, ok := rules[entity]
	if !ok {
		return nil
	}
	return append([]Pattern(nil), r[op]...)
}
