// Package personne は人物登録簿のドメインロジックを提供する。
package personne

import (
	"context"
	"fmt"

	"github.com/hitoshi/registre/internal/model"
	"github.com/hitoshi/registre/internal/repository"
)

// 操作結果のラベル
const (
	OutcomeSuccess    = "success"
	OutcomeNotFound   = "not_found"
	OutcomeInvalid    = "invalid"
	OutcomeStoreError = "store_error"
)

// OperationRecorder は操作結果の記録先。metrics.Collectorが実装する。
type OperationRecorder interface {
	RecordPersonneOperation(operation, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) RecordPersonneOperation(string, string) {}

// Service は人物登録簿のサービス層。
// nomの必須チェックと、影響行数0件の未検出エラーへの変換を担う。
type Service struct {
	repo     repository.PersonneRepository
	recorder OperationRecorder
}

// NewService はServiceを生成する。recorderがnilの場合は記録しない。
func NewService(repo repository.PersonneRepository, recorder OperationRecorder) *Service {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Service{repo: repo, recorder: recorder}
}

// List は全件を返す。
func (s *Service) List(ctx context.Context) ([]model.Personne, error) {
	personnes, err := s.repo.List(ctx)
	if err != nil {
		s.recorder.RecordPersonneOperation("list", OutcomeStoreError)
		return nil, fmt.Errorf("failed to list personnes: %w", err)
	}
	s.recorder.RecordPersonneOperation("list", OutcomeSuccess)
	return personnes, nil
}

// Get は指定IDの人物を返す。存在しない場合はmodel.ErrNotFoundを返す。
func (s *Service) Get(ctx context.Context, id int64) (*model.Personne, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		s.recorder.RecordPersonneOperation("get", OutcomeStoreError)
		return nil, fmt.Errorf("failed to get personne %d: %w", id, err)
	}
	if p == nil {
		s.recorder.RecordPersonneOperation("get", OutcomeNotFound)
		return nil, model.ErrNotFound
	}
	s.recorder.RecordPersonneOperation("get", OutcomeSuccess)
	return p, nil
}

// Create は人物を登録し、採番済みIDを含む人物を返す。
// nomが空の場合はストアを呼び出さずにmodel.ErrNomRequiredを返す。
func (s *Service) Create(ctx context.Context, nom string, adresse *string) (*model.Personne, error) {
	if nom == "" {
		s.recorder.RecordPersonneOperation("create", OutcomeInvalid)
		return nil, model.ErrNomRequired
	}

	res, err := s.repo.Insert(ctx, nom, adresse)
	if err != nil {
		s.recorder.RecordPersonneOperation("create", OutcomeStoreError)
		return nil, fmt.Errorf("failed to create personne: %w", err)
	}

	s.recorder.RecordPersonneOperation("create", OutcomeSuccess)
	return &model.Personne{ID: res.LastInsertID, Nom: nom, Adresse: adresse}, nil
}

// Update はnomとadresseを置き換える（既存値とのマージは行わない）。
// 該当IDが存在しない場合はmodel.ErrNotFoundを返す。
func (s *Service) Update(ctx context.Context, id int64, nom string, adresse *string) (*model.Personne, error) {
	if nom == "" {
		s.recorder.RecordPersonneOperation("update", OutcomeInvalid)
		return nil, model.ErrNomRequired
	}

	res, err := s.repo.Update(ctx, id, nom, adresse)
	if err != nil {
		s.recorder.RecordPersonneOperation("update", OutcomeStoreError)
		return nil, fmt.Errorf("failed to update personne %d: %w", id, err)
	}
	if res.RowsAffected == 0 {
		s.recorder.RecordPersonneOperation("update", OutcomeNotFound)
		return nil, model.ErrNotFound
	}

	s.recorder.RecordPersonneOperation("update", OutcomeSuccess)
	return &model.Personne{ID: id, Nom: nom, Adresse: adresse}, nil
}

// Delete は指定IDの人物を削除する。
// 該当IDが存在しない場合はmodel.ErrNotFoundを返す。
func (s *Service) Delete(ctx context.Context, id int64) error {
	res, err := s.repo.Delete(ctx, id)
	if err != nil {
		s.recorder.RecordPersonneOperation("delete", OutcomeStoreError)
		return fmt.Errorf("failed to delete personne %d: %w", id, err)
	}
	if res.RowsAffected == 0 {
		s.recorder.RecordPersonneOperation("delete", OutcomeNotFound)
		return model.ErrNotFound
	}

	s.recorder.RecordPersonneOperation("delete", OutcomeSuccess)
	return nil
}
