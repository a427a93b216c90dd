package query

import (
	"context"

	"github.com/campus-hub/querysync/internal/domain/academic"
	"github.com/campus-hub/querysync/internal/domain/shared"
	"github.com/campus-hub/querysync/internal/infrastructure/transport"
	ks "github.com/campus-hub/querysync/internal/querycache/keyspace"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXAMS & RESULTS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Service) Exams(semesterID string) (View[[]academic.Exam], error) {
	return listView[academic.Exam](s, ks.Exams, transport.ResourceExams,
		ks.Params{ks.ParamSemesterID: semesterID})
}

// ExamResults lists every result recorded for an exam.
func (s *Service) ExamResults(examID string) (View[[]academic.ExamResult], error) {
	return listView[academic.ExamResult](s, ks.ExamResultsByExam, transport.ResourceExamResults,
		ks.Params{ks.ParamExamID: examID})
}

func (s *Service) ExamResult(id string) (View[academic.ExamResult], error) {
	return newView(s, ks.ExamResultDetail, ks.Params{ks.ParamID: id},
		one[academic.ExamResult](s, transport.ResourceExamResults, id))
}

// MyExamResults lists the session student's results of published exams.
// Results of unpublished or deleted exams are hidden.
func (s *Service) MyExamResults() (View[[]academic.ExamResult], error) {
	actor, err := s.student("MyExamResults")
	if err != nil {
		return View[[]academic.ExamResult]{}, err
	}

	results := list[academic.ExamResult](s, transport.ResourceExamResults, map[string]string{
		ks.ParamStudentID: actor.StudentID,
	})
	return newView(s, ks.MyExamResults, nil, func(ctx context.Context) ([]academic.ExamResult, error) {
		all, err := results(ctx)
		if err != nil {
			return nil, err
		}

		published := make(map[string]bool)
		out := make([]academic.ExamResult, 0, len(all))
		for _, r := range all {
			ok, seen := published[r.ExamID]
			if !seen {
				exam, err := one[academic.Exam](s, transport.ResourceExams, r.ExamID)(ctx)
				switch {
				case err == nil:
					ok = exam.IsPublished
				case shared.IsNotFound(err):
					ok = false
				default:
					return nil, err
				}
				published[r.ExamID] = ok
			}
			if ok {
				out = append(out, r)
			}
		}
		return out, nil
	})
}
