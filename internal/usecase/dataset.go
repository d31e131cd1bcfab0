package usecase

import (
	"context"

	"go.opentelemetry.io/otel"

	"github.com/opencurate/releasehub/internal/domain"
)

var datasetTracer = otel.Tracer("dataset")

// DatasetUsecase exposes read-only dataset summaries. Datasets are loaded
// into the system out of band, so there are no mutating operations here.
type DatasetUsecase struct {
	repo DatasetRepository
}

func NewDatasetUsecase(repo DatasetRepository) *DatasetUsecase {
	return &DatasetUsecase{repo: repo}
}

func (uc *DatasetUsecase) GetAll(ctx context.Context, limit, offset int) (PagedResult[domain.Dataset], error) {
	ctx, span := datasetTracer.Start(ctx, "Dataset.Usecase.GetAll")
	defer span.End()

	datasets, total, err := uc.repo.GetAll(ctx, limit, offset)
	if err != nil {
		return PagedResult[domain.Dataset]{}, err
	}
	return PagedResult[domain.Dataset]{Data: datasets, Total: total}, nil
}

func (uc *DatasetUsecase) Get(ctx context.Context, uri string) (*domain.Dataset, error) {
	ctx, span := datasetTracer.Start(ctx, "Dataset.Usecase.Get")
	defer span.End()

	return uc.repo.Get(ctx, uri)
}
