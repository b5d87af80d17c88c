package attendance

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"campusevents/internal/apperr"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// ValidateConfig checks that a config is internally consistent and that its
// criteria can be met by its checkpoints. Every failure wraps ErrInvalidEligibility.
func ValidateConfig(cfg Config) error {
	if err := structValidator().Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidEligibility, err)
	}

	seen := make(map[string]struct{}, len(cfg.Checkpoints))
	mandatory := 0
	for _, cp := range cfg.Checkpoints {
		if _, dup := seen[cp.ID]; dup {
			return fmt.Errorf("%w: duplicate checkpoint id %s", apperr.ErrInvalidEligibility, cp.ID)
		}
		seen[cp.ID] = struct{}{}
		if cp.End != nil && cp.End.Before(cp.Start) {
			return fmt.Errorf("%w: checkpoint %s ends before it starts", apperr.ErrInvalidEligibility, cp.ID)
		}
		// full percentage has to mean every mandatory checkpoint is marked
		if cp.Mandatory && cp.Weight <= 0 {
			return fmt.Errorf("%w: mandatory checkpoint %s needs a positive weight", apperr.ErrInvalidEligibility, cp.ID)
		}
		if !cp.Mandatory && cp.Weight != 0 {
			return fmt.Errorf("%w: optional checkpoint %s must have zero weight", apperr.ErrInvalidEligibility, cp.ID)
		}
		if cp.Mandatory {
			mandatory++
		}
	}
	if cfg.TotalWeight() <= 0 {
		return fmt.Errorf("%w: checkpoints carry no weight", apperr.ErrInvalidEligibility)
	}
	if cfg.Criteria.MinMandatory > mandatory {
		return fmt.Errorf("%w: %d mandatory checkpoints required but only %d exist",
			apperr.ErrInvalidEligibility, cfg.Criteria.MinMandatory, mandatory)
	}
	return nil
}
