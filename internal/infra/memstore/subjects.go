package memstore

import (
	"context"
	"sync"
	"time"

	"ai-analysis-pipeline/internal/domain"
	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/domain/ports/repository"
)

var _ repository.SubjectRepository = (*SubjectRepo)(nil)

// SubjectRepo keeps subject status in memory. With autoCreate set, an unknown
// subject is registered on its first status update; dev mode has no upload
// path to create subjects otherwise.
type SubjectRepo struct {
	mu         sync.Mutex
	subjects   map[string]*model.Subject
	autoCreate bool
}

func NewSubjectRepo(autoCreate bool) *SubjectRepo {
	return &SubjectRepo{subjects: make(map[string]*model.Subject), autoCreate: autoCreate}
}

func (r *SubjectRepo) Save(s model.Subject) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Status == "" {
		s.Status = model.SubjectIdle
	}
	s.UpdatedAt = time.Now().UTC()
	r.subjects[s.ID] = &s
}

func (r *SubjectRepo) UpdateStatus(ctx context.Context, tx repository.Tx, subjectID string, status model.SubjectStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subjects[subjectID]
	if !ok {
		if !r.autoCreate {
			return domain.ErrNotFound
		}
		s = &model.Subject{ID: subjectID}
		r.subjects[subjectID] = s
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *SubjectRepo) FindByID(ctx context.Context, tx repository.Tx, subjectID string) (*model.Subject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subjects[subjectID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *SubjectRepo) FailStale(ctx context.Context, before time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, s := range r.subjects {
		if s.Status == model.SubjectProcessing && s.UpdatedAt.Before(before) {
			s.Status = model.SubjectFailed
			s.UpdatedAt = time.Now().UTC()
			ids = append(ids, id)
		}
	}
	return ids, nil
}
