package usecase

import "context"

type MatchingUC interface {
	MatchProductVideo(ctx context.Context, req *MatchReq) (*MatchRes, error)
}
