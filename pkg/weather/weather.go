// Package weather evaluates how much solar generation a user can expect.
package weather

import (
	"context"
	"errors"

	"github.com/peakshift/peakshift/pkg/types"
)

// ErrForecastEvaluation is matched by every failure to produce a forecast.
var ErrForecastEvaluation = errors.New("forecast evaluation failed")

// Forecast summarizes the solar outlook.
type Forecast struct {
	// SunshinePercentage is 0 for no usable sun and 100 for a clear day.
	SunshinePercentage int    `json:"sunshinePercentage"`
	Reason             string `json:"reason"`
}

// Evaluator produces a forecast for the user's configured location.
type Evaluator interface {
	Evaluate(ctx context.Context, user types.User) (Forecast, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, user types.User) (Forecast, error)

// Evaluate implements Evaluator.
func (f EvaluatorFunc) Evaluate(ctx context.Context, user types.User) (Forecast, error) {
	return f(ctx, user)
}

// assumeGoodWeather is used when no forecast can be looked up for the user,
// which keeps the planner from forcing a charge it cannot justify.
var assumeGoodWeather = Forecast{
	SunshinePercentage: 100,
	Reason:             "Could not retrieve weather forecast for the user's location. Assuming good weather.",
}

// Disabled never forecasts a shortfall.
func Disabled() Evaluator {
	return EvaluatorFunc(func(ctx context.Context, user types.User) (Forecast, error) {
		return Forecast{SunshinePercentage: 100, Reason: "Weather evaluation is disabled."}, nil
	})
}
