package pgdb

import (
	"context"

	"github.com/DRSN-tech/match-service/internal/domain"
	"github.com/DRSN-tech/match-service/internal/repository/pgdb/converter"
	"github.com/DRSN-tech/match-service/pkg/e"
	"github.com/DRSN-tech/match-service/pkg/tr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
)

// MatchRepo реализует репозиторий совпадений поверх PostgreSQL.
type MatchRepo struct {
	pool *pgxpool.Pool
	conv *converter.MatchConverter
}

func NewMatchRepo(pool *pgxpool.Pool, conv *converter.MatchConverter) *MatchRepo {
	return &MatchRepo{
		pool: pool,
		conv: conv,
	}
}

// Create вставляет совпадение по естественному ключу (job_id, product_id, video_id).
// Конфликт по ключу не ошибка: запись уже существует, created == false.
// Записи терминальны, повторная вставка ничего не обновляет.
func (m *MatchRepo) Create(ctx context.Context, match *domain.Match) (bool, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return false, e.Wrap(whereami.WhereAmI(), err)
	}

	model := m.conv.ToModel(match)
	query := `
		INSERT INTO matches (
			id,
			job_id,
			product_id,
			video_id,
			best_img_id,
			best_frame_id,
			ts,
			score
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id, product_id, video_id) DO NOTHING
		RETURNING created_at;
	`

	rows, err := tx.Query(ctx, query,
		model.ID,
		model.JobID,
		model.ProductID,
		model.VideoID,
		model.BestImgID,
		model.BestFrameID,
		model.TS,
		model.Score,
	)
	if err != nil {
		return false, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	if !rows.Next() {
		// Конфликт: совпадение для тройки уже зафиксировано.
		return false, rows.Err()
	}

	if err := rows.Scan(&model.CreatedAt); err != nil {
		return false, e.Wrap(whereami.WhereAmI(), err)
	}

	match.CreatedAt = model.CreatedAt

	return true, nil
}
