package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-hub/querysync/internal/domain/academic"
	"github.com/campus-hub/querysync/internal/domain/shared"
	"github.com/campus-hub/querysync/internal/infrastructure/transport"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func TestBackend_EnrollmentUniqueness(t *testing.T) {
	ctx := context.Background()
	b := New(WithIDs(sequentialIDs()))

	req := academic.CreateEnrollmentRequest{CourseID: "c1", StudentID: "s1"}
	created, err := transport.Post(ctx, b, transport.ResourceEnrollments, req)
	require.NoError(t, err)
	assert.Equal(t, "id-1", created.(map[string]any)["id"])

	_, err = transport.Post(ctx, b, transport.ResourceEnrollments, req)
	require.Error(t, err)
	assert.True(t, shared.IsAlreadyExists(err))
	assert.ErrorIs(t, err, shared.ErrDuplicateEnrollment)

	list, err := transport.Get(ctx, b, transport.ResourceEnrollments, map[string]string{"courseId": "c1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestBackend_SoftDeleteFreesNaturalKey(t *testing.T) {
	ctx := context.Background()
	b := New(WithIDs(sequentialIDs()))

	req := academic.CreateSemesterRequest{SemesterNumber: 1, SemesterType: academic.SemesterOdd, DepartmentID: "d1", AcademicYearID: "y1"}
	_, err := transport.Post(ctx, b, transport.ResourceSemesters, req)
	require.NoError(t, err)

	_, err = transport.Delete(ctx, b, transport.ResourceSemesters, "id-1")
	require.NoError(t, err)

	_, err = transport.GetByID(ctx, b, transport.ResourceSemesters, "id-1")
	assert.True(t, shared.IsNotFound(err))

	_, err = transport.Post(ctx, b, transport.ResourceSemesters, req)
	require.NoError(t, err)
}

func TestBackend_ListFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	b := New(WithIDs(sequentialIDs()))

	for _, name := range []string{"A", "B"} {
		_, err := transport.Post(ctx, b, transport.ResourceDivisions, academic.CreateDivisionRequest{Name: name, SemesterID: "sem1"})
		require.NoError(t, err)
	}
	_, err := transport.Post(ctx, b, transport.ResourceDivisions, academic.CreateDivisionRequest{Name: "A", SemesterID: "sem2"})
	require.NoError(t, err)

	data, err := transport.Get(ctx, b, transport.ResourceDivisions, map[string]string{"semesterId": "sem1"})
	require.NoError(t, err)

	divs, err := transport.Decode[[]academic.Division](data)
	require.NoError(t, err)
	require.Len(t, divs, 2)
	assert.Equal(t, "A", divs[0].Name)
	assert.Equal(t, "B", divs[1].Name)

	data, err = transport.Get(ctx, b, transport.ResourceSubjects, map[string]string{"semesterNumber": "3"})
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestBackend_PatchKeepsUniqueness(t *testing.T) {
	ctx := context.Background()
	b := New(WithIDs(sequentialIDs()))

	_, err := transport.Post(ctx, b, transport.ResourceDivisions, academic.CreateDivisionRequest{Name: "A", SemesterID: "sem1"})
	require.NoError(t, err)
	_, err = transport.Post(ctx, b, transport.ResourceDivisions, academic.CreateDivisionRequest{Name: "B", SemesterID: "sem1"})
	require.NoError(t, err)

	_, err = transport.Patch(ctx, b, transport.ResourceDivisions, "id-2", map[string]any{"name": "A"})
	assert.True(t, shared.IsAlreadyExists(err))

	published := true
	_, err = transport.Post(ctx, b, transport.ResourceExams, academic.CreateExamRequest{Name: "Mid", ExamType: academic.ExamMidterm, SemesterID: "sem1"})
	require.NoError(t, err)
	data, err := transport.Patch(ctx, b, transport.ResourceExams, "id-3", academic.UpdateExamRequest{ID: "id-3", SemesterID: "sem1", IsPublished: &published})
	require.NoError(t, err)

	exam, err := transport.Decode[academic.Exam](data)
	require.NoError(t, err)
	assert.True(t, exam.IsPublished)
	assert.Equal(t, "Mid", exam.Name)
	assert.Equal(t, 1, b.Calls(transport.MethodPatch, transport.ResourceExams))
}

func TestBackend_Errors(t *testing.T) {
	b := New()

	_, err := transport.Get(context.Background(), b, "timetables", nil)
	assert.True(t, shared.IsNotFound(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = transport.Get(ctx, b, transport.ResourceExams, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
