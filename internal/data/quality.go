package data

import (
	"strconv"
	"time"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Issue severities
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
)

// Issue is one data quality problem found in a bar series
type Issue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	BarIndex int    `json:"barIndex"`
}

// QualityReport summarizes the checks run over one bar series
type QualityReport struct {
	Symbol    string    `json:"symbol"`
	TotalBars int       `json:"totalBars"`
	Issues    []Issue   `json:"issues"`
	Usable    bool      `json:"usable"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

// Validator checks bar series before they are turned into price series.
type Validator struct {
	logger *zap.Logger

	MaxGapMove float64 // largest close-to-close move tolerated without a warning
}

// NewValidator creates a validator with a 20% gap tolerance.
func NewValidator(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{logger: logger, MaxGapMove: 0.20}
}

// Validate runs every check on bars.
func (v *Validator) Validate(symbol string, bars []*types.OHLCV) *QualityReport {
	report := &QualityReport{Symbol: symbol, TotalBars: len(bars)}
	if len(bars) == 0 {
		report.Issues = []Issue{{Type: "NO_DATA", Severity: SeverityCritical, Message: "no bars"}}
		return report
	}

	report.StartDate = bars[0].Timestamp
	report.EndDate = bars[len(bars)-1].Timestamp

	for i, bar := range bars {
		if bar == nil {
			report.Issues = append(report.Issues, Issue{Type: "NIL_BAR", Severity: SeverityCritical, Message: "nil bar", BarIndex: i})
			continue
		}
		if !bar.Close.IsPositive() {
			report.Issues = append(report.Issues, Issue{
				Type:     "NON_POSITIVE_PRICE",
				Severity: SeverityCritical,
				Message:  "close " + bar.Close.String() + " is not positive",
				BarIndex: i,
			})
		}
		if bar.High.LessThan(decimal.Max(bar.Open, bar.Close, bar.Low)) || bar.Low.GreaterThan(decimal.Min(bar.Open, bar.Close, bar.High)) {
			report.Issues = append(report.Issues, Issue{
				Type:     "OHLC_INCONSISTENT",
				Severity: SeverityHigh,
				Message:  "O:" + bar.Open.String() + " H:" + bar.High.String() + " L:" + bar.Low.String() + " C:" + bar.Close.String(),
				BarIndex: i,
			})
		}
		if i == 0 || bars[i-1] == nil {
			continue
		}

		prev := bars[i-1]
		if !bar.Timestamp.After(prev.Timestamp) {
			report.Issues = append(report.Issues, Issue{
				Type:     "OUT_OF_ORDER",
				Severity: SeverityCritical,
				Message:  "timestamp does not advance",
				BarIndex: i,
			})
		}
		if prev.Close.IsPositive() {
			move := bar.Close.Sub(prev.Close).Div(prev.Close).Abs().InexactFloat64()
			if move > v.MaxGapMove {
				report.Issues = append(report.Issues, Issue{
					Type:     "GAP_MOVE",
					Severity: SeverityHigh,
					Message:  "close moved " + strconv.FormatFloat(move*100, 'f', 1, 64) + "%",
					BarIndex: i,
				})
			}
		}
	}

	report.Usable = !hasCritical(report.Issues)
	return report
}

// Instrument converts bars into an instrument, rejecting series with
// critical issues as malformed input.
func (v *Validator) Instrument(symbol string, bars []*types.OHLCV) (types.Instrument, error) {
	report := v.Validate(symbol, bars)
	if !report.Usable {
		first := firstCritical(report.Issues)
		return types.Instrument{}, types.Malformed("%s: %s at bar %d: %s", symbol, first.Type, first.BarIndex, first.Message)
	}
	if n := len(report.Issues); n > 0 {
		v.logger.Warn("data quality issues",
			zap.String("symbol", symbol),
			zap.Int("issues", n),
		)
	}
	return types.Instrument{ID: symbol, Prices: types.ClosePrices(bars)}, nil
}

func hasCritical(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

func firstCritical(issues []Issue) Issue {
	for _, issue := range issues {
		if issue.Severity == SeverityCritical {
			return issue
		}
	}
	return Issue{}
}
