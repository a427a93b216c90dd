package academic

import "strconv"

// Scoped is implemented by every write request. Scope returns the fields
// the affected cached views are keyed by, named as in the JSON payload.
type Scoped interface {
	Scope() map[string]string
}

// ──────────────────────────────────────────────────────────────────────────────
// College hierarchy
// ──────────────────────────────────────────────────────────────────────────────

type CreateAcademicYearRequest struct {
	Year      string `json:"year" validate:"required,notblank,max=20"`
	CollegeID string `json:"collegeId" validate:"required"`
	IsActive  bool   `json:"isActive"`
}

func (r CreateAcademicYearRequest) Scope() map[string]string {
	return map[string]string{"collegeId": r.CollegeID}
}

type UpdateAcademicYearRequest struct {
	ID        string  `json:"id" validate:"required"`
	CollegeID string  `json:"collegeId" validate:"required"`
	Year      *string `json:"year,omitempty" validate:"omitempty,notblank,max=20"`
	IsActive  *bool   `json:"isActive,omitempty"`
}

func (r UpdateAcademicYearRequest) Scope() map[string]string {
	return map[string]string{"id": r.ID, "collegeId": r.CollegeID}
}

type CreateDepartmentRequest struct {
	Name         string `json:"name" validate:"required,notblank,max=120"`
	Abbreviation string `json:"abbreviation" validate:"required,notblank,max=16"`
	CollegeID    string `json:"collegeId" validate:"required"`
}

func (r CreateDepartmentRequest) Scope() map[string]string {
	return map[string]string{"collegeId": r.CollegeID}
}

type CreateSemesterRequest struct {
	SemesterNumber int          `json:"semesterNumber" validate:"required,min=1,max=12"`
	SemesterType   SemesterType `json:"semesterType" validate:"required,oneof=ODD EVEN"`
	DepartmentID   string       `json:"departmentId" validate:"required"`
	AcademicYearID string       `json:"academicYearId" validate:"required"`
}

func (r CreateSemesterRequest) Scope() map[string]string {
	return map[string]string{"departmentId": r.DepartmentID, "academicYearId": r.AcademicYearID}
}

type UpdateSemesterRequest struct {
	ID             string        `json:"id" validate:"required"`
	DepartmentID   string        `json:"departmentId" validate:"required"`
	AcademicYearID string        `json:"academicYearId" validate:"required"`
	SemesterType   *SemesterType `json:"semesterType,omitempty" validate:"omitempty,oneof=ODD EVEN"`
}

func (r UpdateSemesterRequest) Scope() map[string]string {
	return map[string]string{"id": r.ID, "departmentId": r.DepartmentID, "academicYearId": r.AcademicYearID}
}

type CreateDivisionRequest struct {
	Name       string `json:"name" validate:"required,notblank,max=16"`
	SemesterID string `json:"semesterId" validate:"required"`
}

func (r CreateDivisionRequest) Scope() map[string]string {
	return map[string]string{"semesterId": r.SemesterID}
}

type CreateSubjectRequest struct {
	Name           string      `json:"name" validate:"required,notblank,max=120"`
	Abbreviation   string      `json:"abbreviation" validate:"required,notblank,max=16"`
	Code           string      `json:"code" validate:"required,alphanum,max=16"`
	Type           SubjectType `json:"type" validate:"required,oneof=MANDATORY ELECTIVE"`
	SemesterNumber int         `json:"semesterNumber" validate:"required,min=1,max=12"`
	DepartmentID   string      `json:"departmentId" validate:"required"`
}

func (r CreateSubjectRequest) Scope() map[string]string {
	return map[string]string{"departmentId": r.DepartmentID, "semesterNumber": strconv.Itoa(r.SemesterNumber)}
}

type CreateFacultyRequest struct {
	Email        string `json:"email" validate:"required,email"`
	FullName     string `json:"fullName" validate:"required,notblank,max=120"`
	Designation  string `json:"designation" validate:"required,oneof=HOD PROFESSOR ASST_PROFESSOR LAB_ASSISTANT"`
	Abbreviation string `json:"abbreviation,omitempty" validate:"omitempty,max=8"`
	DepartmentID string `json:"departmentId" validate:"required"`
}

func (r CreateFacultyRequest) Scope() map[string]string {
	return map[string]string{"departmentId": r.DepartmentID}
}

type CreateStudentRequest struct {
	Email            string `json:"email" validate:"required,email"`
	FullName         string `json:"fullName" validate:"required,notblank,max=120"`
	EnrollmentNumber string `json:"enrollmentNumber" validate:"required,alphanum,max=20"`
	Batch            string `json:"batch" validate:"required,max=10"`
	DepartmentID     string `json:"departmentId" validate:"required"`
	SemesterID       string `json:"semesterId" validate:"required"`
	DivisionID       string `json:"divisionId" validate:"required"`
}

func (r CreateStudentRequest) Scope() map[string]string {
	return map[string]string{"divisionId": r.DivisionID}
}

// ──────────────────────────────────────────────────────────────────────────────
// Teaching
// ──────────────────────────────────────────────────────────────────────────────

type CreateCourseRequest struct {
	SubjectID   string      `json:"subjectId" validate:"required"`
	FacultyID   string      `json:"facultyId" validate:"required"`
	SemesterID  string      `json:"semesterId" validate:"required"`
	DivisionID  string      `json:"divisionId" validate:"required"`
	LectureType LectureType `json:"lectureType" validate:"required,oneof=THEORY PRACTICAL"`
	Batch       string      `json:"batch,omitempty" validate:"omitempty,max=10"`
}

func (r CreateCourseRequest) Scope() map[string]string {
	return map[string]string{"divisionId": r.DivisionID}
}

type UpdateCourseRequest struct {
	ID         string  `json:"id" validate:"required"`
	DivisionID string  `json:"divisionId" validate:"required"`
	FacultyID  *string `json:"facultyId,omitempty"`
	Batch      *string `json:"batch,omitempty" validate:"omitempty,max=10"`
}

func (r UpdateCourseRequest) Scope() map[string]string {
	return map[string]string{"id": r.ID, "divisionId": r.DivisionID}
}

type CreateEnrollmentRequest struct {
	CourseID  string `json:"courseId" validate:"required"`
	StudentID string `json:"studentId" validate:"required"`
}

func (r CreateEnrollmentRequest) Scope() map[string]string {
	return map[string]string{"courseId": r.CourseID}
}

// ──────────────────────────────────────────────────────────────────────────────
// Exams
// ──────────────────────────────────────────────────────────────────────────────

type CreateExamRequest struct {
	Name       string   `json:"name" validate:"required,notblank,max=120"`
	ExamType   ExamType `json:"examType" validate:"required,oneof=MIDTERM REMEDIAL FINAL REPEAT"`
	SemesterID string   `json:"semesterId" validate:"required"`
}

func (r CreateExamRequest) Scope() map[string]string {
	return map[string]string{"semesterId": r.SemesterID}
}

// UpdateExamRequest changes an exam. Setting IsPublished releases its
// results to students.
type UpdateExamRequest struct {
	ID          string  `json:"id" validate:"required"`
	SemesterID  string  `json:"semesterId" validate:"required"`
	Name        *string `json:"name,omitempty" validate:"omitempty,notblank,max=120"`
	IsPublished *bool   `json:"isPublished,omitempty"`
}

func (r UpdateExamRequest) Scope() map[string]string {
	return map[string]string{"id": r.ID, "semesterId": r.SemesterID}
}

type CreateExamResultRequest struct {
	ExamID                  string          `json:"examId" validate:"required"`
	StudentID               string          `json:"studentId,omitempty"`
	StudentEnrollmentNumber string          `json:"studentEnrollmentNumber" validate:"required,alphanum"`
	SPI                     float64         `json:"spi" validate:"gte=0,lte=10"`
	CPI                     float64         `json:"cpi" validate:"gte=0,lte=10"`
	Status                  ResultStatus    `json:"status" validate:"required,oneof=PASS FAIL TRIAL ABSENT WITHHELD"`
	Results                 []SubjectResult `json:"results" validate:"dive"`
}

func (r CreateExamResultRequest) Scope() map[string]string {
	return map[string]string{"examId": r.ExamID}
}

// ──────────────────────────────────────────────────────────────────────────────
// Attendance
// ──────────────────────────────────────────────────────────────────────────────

// RecordAttendanceRequest marks one student for one lecture. SemesterID is
// not stored; it scopes the student's summary views.
type RecordAttendanceRequest struct {
	CourseID   string           `json:"courseId" validate:"required"`
	StudentID  string           `json:"studentId" validate:"required"`
	SemesterID string           `json:"semesterId,omitempty"`
	Date       string           `json:"date" validate:"required,datekey"`
	Status     AttendanceStatus `json:"status" validate:"required,oneof=PRESENT ABSENT MEDICAL_LEAVE AUTHORIZED_LEAVE"`
}

func (r RecordAttendanceRequest) Scope() map[string]string {
	return map[string]string{
		"courseId":   r.CourseID,
		"date":       r.Date,
		"studentId":  r.StudentID,
		"semesterId": r.SemesterID,
	}
}

type UpdateAttendanceRequest struct {
	ID         string           `json:"id" validate:"required"`
	CourseID   string           `json:"courseId" validate:"required"`
	Date       string           `json:"date" validate:"required,datekey"`
	StudentID  string           `json:"studentId,omitempty"`
	SemesterID string           `json:"semesterId,omitempty"`
	Status     AttendanceStatus `json:"status" validate:"required,oneof=PRESENT ABSENT MEDICAL_LEAVE AUTHORIZED_LEAVE"`
}

func (r UpdateAttendanceRequest) Scope() map[string]string {
	return map[string]string{
		"id":         r.ID,
		"courseId":   r.CourseID,
		"date":       r.Date,
		"studentId":  r.StudentID,
		"semesterId": r.SemesterID,
	}
}

// DeleteRequest removes a record. Parent carries the scope fields of the
// lists the record appears in, e.g. the divisionId of a course.
type DeleteRequest struct {
	ID     string            `json:"id" validate:"required"`
	Parent map[string]string `json:"parent,omitempty"`
}

func (r DeleteRequest) Scope() map[string]string {
	out := make(map[string]string, len(r.Parent)+1)
	for k, v := range r.Parent {
		out[k] = v
	}
	out["id"] = r.ID
	return out
}
