package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/podium-backend/internal/data/repos/analysis"
	"github.com/yungbote/podium-backend/internal/platform/logger"
)

type AnalysisRunRepo = analysis.AnalysisRunRepo

type Repos struct {
	AnalysisRun AnalysisRunRepo
}

func New(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		AnalysisRun: analysis.NewAnalysisRunRepo(db, log),
	}
}
