// Package academic holds the records of the campus platform: the college
// hierarchy down to divisions, course offerings, enrollments, exams, results
// and attendance.
//
// Every write request carries the scope fields its cached views are keyed
// by, and exposes them through Scope so the cache can invalidate exactly
// the lists the write touched.
package academic

import (
	"strconv"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// SemesterType is the parity of a semester.
type SemesterType string

const (
	SemesterOdd  SemesterType = "ODD"
	SemesterEven SemesterType = "EVEN"
)

// SubjectType tells mandatory subjects from electives.
type SubjectType string

const (
	SubjectMandatory SubjectType = "MANDATORY"
	SubjectElective  SubjectType = "ELECTIVE"
)

// LectureType is the format of a course offering.
type LectureType string

const (
	LectureTheory    LectureType = "THEORY"
	LecturePractical LectureType = "PRACTICAL"
)

// ExamType classifies an exam.
type ExamType string

const (
	ExamMidterm  ExamType = "MIDTERM"
	ExamRemedial ExamType = "REMEDIAL"
	ExamFinal    ExamType = "FINAL"
	ExamRepeat   ExamType = "REPEAT"
)

// ResultStatus is the outcome of a student in an exam.
type ResultStatus string

const (
	ResultPass     ResultStatus = "PASS"
	ResultFail     ResultStatus = "FAIL"
	ResultTrial    ResultStatus = "TRIAL"
	ResultAbsent   ResultStatus = "ABSENT"
	ResultWithheld ResultStatus = "WITHHELD"
)

// AttendanceStatus is the mark of one student for one lecture.
type AttendanceStatus string

const (
	AttendancePresent         AttendanceStatus = "PRESENT"
	AttendanceAbsent          AttendanceStatus = "ABSENT"
	AttendanceMedicalLeave    AttendanceStatus = "MEDICAL_LEAVE"
	AttendanceAuthorizedLeave AttendanceStatus = "AUTHORIZED_LEAVE"
)

// CountsAsPresent reports whether the mark counts towards the percentage.
// Authorized absences count as attended.
func (s AttendanceStatus) CountsAsPresent() bool {
	return s == AttendancePresent || s == AttendanceMedicalLeave || s == AttendanceAuthorizedLeave
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORDS
// ══════════════════════════════════════════════════════════════════════════════

// Audit holds the bookkeeping fields shared by every record.
type Audit struct {
	IsDeleted bool      `json:"isDeleted"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type College struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Abbreviation string `json:"abbreviation"`
	Audit
}

type AcademicYear struct {
	ID        string `json:"id"`
	Year      string `json:"year"`
	IsActive  bool   `json:"isActive"`
	CollegeID string `json:"collegeId"`
	Audit
}

type Department struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Abbreviation string `json:"abbreviation"`
	CollegeID    string `json:"collegeId"`
	Audit
}

type Semester struct {
	ID             string       `json:"id"`
	SemesterNumber int          `json:"semesterNumber"`
	SemesterType   SemesterType `json:"semesterType"`
	DepartmentID   string       `json:"departmentId"`
	AcademicYearID string       `json:"academicYearId"`
	Audit
}

type Division struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SemesterID string `json:"semesterId"`
	Audit
}

type Subject struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Abbreviation   string      `json:"abbreviation"`
	Code           string      `json:"code"`
	Type           SubjectType `json:"type"`
	SemesterNumber int         `json:"semesterNumber"`
	DepartmentID   string      `json:"departmentId"`
	Audit
}

type Faculty struct {
	ID           string `json:"id"`
	FullName     string `json:"fullName"`
	Designation  string `json:"designation"`
	Abbreviation string `json:"abbreviation,omitempty"`
	DepartmentID string `json:"departmentId"`
	Audit
}

type Student struct {
	ID               string `json:"id"`
	EnrollmentNumber string `json:"enrollmentNumber"`
	FullName         string `json:"fullName"`
	Batch            string `json:"batch"`
	DepartmentID     string `json:"departmentId"`
	SemesterID       string `json:"semesterId"`
	DivisionID       string `json:"divisionId"`
	Audit
}

// Course is the offering of a subject to a division by a faculty member.
type Course struct {
	ID          string      `json:"id"`
	LectureType LectureType `json:"lectureType"`
	Batch       string      `json:"batch,omitempty"`
	SubjectID   string      `json:"subjectId"`
	FacultyID   string      `json:"facultyId"`
	SemesterID  string      `json:"semesterId"`
	DivisionID  string      `json:"divisionId"`
	Audit
}

// Enrollment links a student to a course.
type Enrollment struct {
	ID        string `json:"id"`
	CourseID  string `json:"courseId"`
	StudentID string `json:"studentId"`
	Audit
}

type Exam struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	ExamType    ExamType `json:"examType"`
	SemesterID  string   `json:"semesterId"`
	IsPublished bool     `json:"isPublished"`
	Audit
}

// SubjectResult is one subject's grade inside an exam result.
type SubjectResult struct {
	SubjectID string `json:"subjectId"`
	Grade     string `json:"grade"`
	Credits   int    `json:"credits"`
}

type ExamResult struct {
	ID                      string          `json:"id"`
	ExamID                  string          `json:"examId"`
	StudentID               string          `json:"studentId,omitempty"`
	StudentEnrollmentNumber string          `json:"studentEnrollmentNumber"`
	SPI                     float64         `json:"spi"`
	CPI                     float64         `json:"cpi"`
	Status                  ResultStatus    `json:"status"`
	Results                 []SubjectResult `json:"results"`
	Audit
}

// AttendanceRecord is the mark of one student for one course on one day.
// Date is a calendar day in the campus timezone (YYYY-MM-DD).
type AttendanceRecord struct {
	ID        string           `json:"id"`
	Date      string           `json:"date"`
	Status    AttendanceStatus `json:"status"`
	CourseID  string           `json:"courseId"`
	StudentID string           `json:"studentId"`
	Audit
}

// AttendanceSummary aggregates a student's attendance in one course.
type AttendanceSummary struct {
	CourseID      string  `json:"courseId"`
	PresentCount  int     `json:"presentCount"`
	AbsentCount   int     `json:"absentCount"`
	TotalLectures int     `json:"totalLectures"`
	Percentage    float64 `json:"percentage"`
}

// Summarize builds per-course summaries from attendance records.
func Summarize(records []AttendanceRecord) []AttendanceSummary {
	byCourse := make(map[string]*AttendanceSummary)
	var order []string
	for _, r := range records {
		if r.IsDeleted {
			continue
		}
		s, ok := byCourse[r.CourseID]
		if !ok {
			s = &AttendanceSummary{CourseID: r.CourseID}
			byCourse[r.CourseID] = s
			order = append(order, r.CourseID)
		}
		s.TotalLectures++
		if r.Status.CountsAsPresent() {
			s.PresentCount++
		} else {
			s.AbsentCount++
		}
	}

	out := make([]AttendanceSummary, 0, len(order))
	for _, id := range order {
		s := byCourse[id]
		if s.TotalLectures > 0 {
			s.Percentage = float64(s.PresentCount) * 100 / float64(s.TotalLectures)
		}
		out = append(out, *s)
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// UNIQUENESS
// ══════════════════════════════════════════════════════════════════════════════

// Natural keys enforced by the backend. Two live records with the same
// natural key cannot exist.

func (s Semester) NaturalKey() string {
	return s.DepartmentID + "|" + s.AcademicYearID + "|" + strconv.Itoa(s.SemesterNumber)
}

func (c Course) NaturalKey() string {
	return c.SubjectID + "|" + c.DivisionID + "|" + c.SemesterID + "|" + string(c.LectureType) + "|" + c.Batch
}

func (e Enrollment) NaturalKey() string {
	return e.CourseID + "|" + e.StudentID
}

func (r ExamResult) NaturalKey() string {
	return r.ExamID + "|" + r.StudentEnrollmentNumber
}

func (a AttendanceRecord) NaturalKey() string {
	return a.CourseID + "|" + a.StudentID + "|" + a.Date
}
