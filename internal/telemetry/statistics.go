package telemetry

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ukydev/fleet-telemetry/internal/models"
)

// Trend is the direction of a metric between the two halves of a window.
type Trend string

const (
	TrendIncreasing Trend = "INCREASING"
	TrendDecreasing Trend = "DECREASING"
	TrendStable     Trend = "STABLE"
)

// EfficiencyTrend mirrors the consumption trend: less fuel is better.
type EfficiencyTrend string

const (
	EfficiencyImproving EfficiencyTrend = "IMPROVING"
	EfficiencyDeclining EfficiencyTrend = "DECLINING"
	EfficiencyStable    EfficiencyTrend = "STABLE"
)

// DefaultPeriod is used when a filter names neither a period nor bounds.
const DefaultPeriod = models.PeriodWeek

// Window is the resolved time range of a statistics query.
type Window struct {
	Start  time.Time               `json:"start"`
	End    time.Time               `json:"end"`
	Period models.StatisticsPeriod `json:"period,omitempty"`
}

// ResolveWindow validates a filter and turns it into concrete bounds.
// Explicit start/end win over a named period.
func ResolveWindow(f models.ReadingFilter, now time.Time) (Window, error) {
	if !models.IsValidReadingKind(f.Kind) {
		return Window{}, validationErrorf("unsupported reading kind %q", f.Kind)
	}
	if f.Limit < 0 {
		return Window{}, validationErrorf("limit must not be negative")
	}
	if !f.Start.IsZero() || !f.End.IsZero() {
		if f.Start.IsZero() {
			return Window{}, validationErrorf("end given without start")
		}
		end := f.End
		if end.IsZero() {
			end = now
		}
		if !f.Start.Before(end) {
			return Window{}, validationErrorf("start must be before end")
		}
		return Window{Start: f.Start, End: end}, nil
	}

	period := f.Period
	if period == "" {
		period = DefaultPeriod
	}
	var start time.Time
	switch period {
	case models.PeriodDay:
		start = now.AddDate(0, 0, -1)
	case models.PeriodWeek:
		start = now.AddDate(0, 0, -7)
	case models.PeriodMonth:
		start = now.AddDate(0, -1, 0)
	default:
		return Window{}, validationErrorf("unsupported period %q", period)
	}
	return Window{Start: start, End: now, Period: period}, nil
}

// BucketShare is a bucket count and its share of the window, formatted
// with one decimal ("0" for an empty window).
type BucketShare struct {
	Count      int    `json:"count"`
	Percentage string `json:"percentage"`
}

// FuelSummary aggregates fuel readings.
type FuelSummary struct {
	TotalReadings         int     `json:"total_readings"`
	AverageFuelLevel      float64 `json:"average_fuel_level"`
	AverageConsumption    float64 `json:"average_consumption"`
	AverageEstimatedRange float64 `json:"average_estimated_range"`
	TotalCostEstimate     float64 `json:"total_cost_estimate"`
	AverageCostEstimate   float64 `json:"average_cost_estimate"`
}

// ConsumptionAnalysis buckets readings by efficiency.
type ConsumptionAnalysis struct {
	Efficient BucketShare `json:"efficient"`
	Normal    BucketShare `json:"normal"`
	Poor      BucketShare `json:"poor"`
}

// FuelLevelAnalysis buckets readings by fuel level; Critical is a subset of Low.
type FuelLevelAnalysis struct {
	Low      BucketShare `json:"low"`
	Normal   BucketShare `json:"normal"`
	High     BucketShare `json:"high"`
	Critical BucketShare `json:"critical"`
}

// FuelTrends holds the three fuel trend directions.
type FuelTrends struct {
	ConsumptionTrend Trend           `json:"consumption_trend"`
	FuelLevelTrend   Trend           `json:"fuel_level_trend"`
	EfficiencyTrend  EfficiencyTrend `json:"efficiency_trend"`
}

// FuelStatistics is the statistics response for fuel readings.
type FuelStatistics struct {
	Summary             FuelSummary         `json:"summary"`
	ConsumptionAnalysis ConsumptionAnalysis `json:"consumption_analysis"`
	FuelLevelAnalysis   FuelLevelAnalysis   `json:"fuel_level_analysis"`
	Trends              FuelTrends          `json:"trends"`
	Thresholds          []ThresholdRule     `json:"thresholds"`
	TimeRange           Window              `json:"time_range"`
}

// EmissionSummary averages every measured gas.
type EmissionSummary struct {
	TotalReadings int     `json:"total_readings"`
	AverageCO2    float64 `json:"average_co2"`
	AverageCO     float64 `json:"average_co"`
	AverageO2     float64 `json:"average_o2"`
	AverageHC     float64 `json:"average_hc"`
	AverageNOx    float64 `json:"average_nox"`
	AveragePM25   float64 `json:"average_pm25"`
}

// EmissionStatistics is the statistics response for emission readings.
type EmissionStatistics struct {
	Summary      EmissionSummary `json:"summary"`
	HighEmission BucketShare     `json:"high_emission"`
	Trends       struct {
		CO2Trend Trend `json:"co2_trend"`
	} `json:"trends"`
	Thresholds []ThresholdRule `json:"thresholds"`
	TimeRange  Window          `json:"time_range"`
}

// GPSStatistics is the statistics response for GPS readings.
type GPSStatistics struct {
	Summary struct {
		TotalReadings int     `json:"total_readings"`
		AverageSpeed  float64 `json:"average_speed"`
		MaxSpeed      float64 `json:"max_speed"`
	} `json:"summary"`
	Speeding BucketShare `json:"speeding"`
	Trends   struct {
		SpeedTrend Trend `json:"speed_trend"`
	} `json:"trends"`
	Thresholds []ThresholdRule `json:"thresholds"`
	TimeRange  Window          `json:"time_range"`
}

// OBDStatistics is the statistics response for OBD readings.
type OBDStatistics struct {
	Summary struct {
		TotalReadings      int     `json:"total_readings"`
		AverageRPM         float64 `json:"average_rpm"`
		AverageCoolantTemp float64 `json:"average_coolant_temp"`
		AverageEngineLoad  float64 `json:"average_engine_load"`
	} `json:"summary"`
	Overheating    BucketShare `json:"overheating"`
	WithFaultCodes BucketShare `json:"with_fault_codes"`
	Trends         struct {
		CoolantTrend Trend `json:"coolant_trend"`
	} `json:"trends"`
	Thresholds []ThresholdRule `json:"thresholds"`
	TimeRange  Window          `json:"time_range"`
}

// Aggregator computes window statistics. It is a pure function of its
// input and the classifier's catalog.
type Aggregator struct {
	classifier *Classifier
}

// NewAggregator creates an aggregator.
func NewAggregator(classifier *Classifier) *Aggregator {
	return &Aggregator{classifier: classifier}
}

// Fuel aggregates fuel readings. Readings of other kinds are ignored.
func (a *Aggregator) Fuel(readings []models.Reading, w Window) (FuelStatistics, error) {
	out := FuelStatistics{
		Thresholds: a.classifier.catalog.Subset(ParamFuelConsumption, ParamFuelLevel, ParamFuelEfficiency),
		TimeRange:  w,
	}
	levelRule, err := a.classifier.catalog.Get(ParamFuelLevel)
	if err != nil {
		return FuelStatistics{}, err
	}
	consumptionRule, err := a.classifier.catalog.Get(ParamFuelConsumption)
	if err != nil {
		return FuelStatistics{}, err
	}

	var levels, consumption, ranges, costs []float64
	var efficient, normalEff, poor, low, normalLvl, high, critical int
	for _, r := range sortedByTime(readings) {
		if r.Fuel == nil {
			continue
		}
		levels = append(levels, r.Fuel.FuelLevel)
		consumption = append(consumption, r.Fuel.FuelConsumption)
		ranges = append(ranges, a.classifier.EstimatedRange(r.Fuel.FuelLevel))
		costs = append(costs, a.classifier.CostEstimate(r.Fuel.FuelConsumption))

		eff, err := a.classifier.Efficiency(r.Fuel.FuelConsumption)
		if err != nil {
			return FuelStatistics{}, err
		}
		switch eff {
		case EfficiencyEfficient:
			efficient++
		case EfficiencyPoor:
			poor++
		default:
			normalEff++
		}

		lvl, err := a.classifier.Level(ParamFuelLevel, r.Fuel.FuelLevel)
		if err != nil {
			return FuelStatistics{}, err
		}
		switch lvl {
		case LevelLow:
			low++
		case LevelHigh:
			high++
		default:
			normalLvl++
		}
		if sev, _ := severityOf(levelRule, r.Fuel.FuelLevel); sev == models.SeverityCritical {
			critical++
		}
	}

	n := len(levels)
	total := floats.Sum(costs)
	out.Summary = FuelSummary{
		TotalReadings:         n,
		AverageFuelLevel:      round(mean(levels), 1),
		AverageConsumption:    round(mean(consumption), 2),
		AverageEstimatedRange: round(mean(ranges), 1),
		TotalCostEstimate:     round(total, 2),
		AverageCostEstimate:   round(mean(costs), 2),
	}
	out.ConsumptionAnalysis = ConsumptionAnalysis{
		Efficient: share(efficient, n),
		Normal:    share(normalEff, n),
		Poor:      share(poor, n),
	}
	out.FuelLevelAnalysis = FuelLevelAnalysis{
		Low:      share(low, n),
		Normal:   share(normalLvl, n),
		High:     share(high, n),
		Critical: share(critical, n),
	}
	consumptionTrend := trendOf(consumption, consumptionRule.NoiseFloor)
	out.Trends = FuelTrends{
		ConsumptionTrend: consumptionTrend,
		FuelLevelTrend:   trendOf(levels, levelRule.NoiseFloor),
		EfficiencyTrend:  efficiencyTrendOf(consumptionTrend),
	}
	return out, nil
}

// Emission aggregates emission readings.
func (a *Aggregator) Emission(readings []models.Reading, w Window) (EmissionStatistics, error) {
	out := EmissionStatistics{Thresholds: a.classifier.catalog.Subset(ParamEmissionCO2), TimeRange: w}
	rule, err := a.classifier.catalog.Get(ParamEmissionCO2)
	if err != nil {
		return EmissionStatistics{}, err
	}

	var co2, co, o2, hc, nox, pm []float64
	high := 0
	for _, r := range sortedByTime(readings) {
		e := r.Emission
		if e == nil {
			continue
		}
		co2 = append(co2, e.CO2)
		co = append(co, e.CO)
		o2 = append(o2, e.O2)
		hc = append(hc, e.HC)
		nox = append(nox, e.NOx)
		pm = append(pm, e.PM25)
		if sev, _ := severityOf(rule, e.CO2); sev != models.SeverityNone {
			high++
		}
	}

	n := len(co2)
	out.Summary = EmissionSummary{
		TotalReadings: n,
		AverageCO2:    round(mean(co2), 2),
		AverageCO:     round(mean(co), 2),
		AverageO2:     round(mean(o2), 2),
		AverageHC:     round(mean(hc), 1),
		AverageNOx:    round(mean(nox), 1),
		AveragePM25:   round(mean(pm), 1),
	}
	out.HighEmission = share(high, n)
	out.Trends.CO2Trend = trendOf(co2, rule.NoiseFloor)
	return out, nil
}

// GPS aggregates GPS readings.
func (a *Aggregator) GPS(readings []models.Reading, w Window) (GPSStatistics, error) {
	out := GPSStatistics{Thresholds: a.classifier.catalog.Subset(ParamSpeed), TimeRange: w}
	rule, err := a.classifier.catalog.Get(ParamSpeed)
	if err != nil {
		return GPSStatistics{}, err
	}

	var speeds []float64
	speeding := 0
	for _, r := range sortedByTime(readings) {
		if r.GPS == nil {
			continue
		}
		speeds = append(speeds, r.GPS.Speed)
		if sev, _ := severityOf(rule, r.GPS.Speed); sev != models.SeverityNone {
			speeding++
		}
	}

	out.Summary.TotalReadings = len(speeds)
	out.Summary.AverageSpeed = round(mean(speeds), 1)
	if len(speeds) > 0 {
		out.Summary.MaxSpeed = round(floats.Max(speeds), 1)
	}
	out.Speeding = share(speeding, len(speeds))
	out.Trends.SpeedTrend = trendOf(speeds, rule.NoiseFloor)
	return out, nil
}

// OBD aggregates OBD readings.
func (a *Aggregator) OBD(readings []models.Reading, w Window) (OBDStatistics, error) {
	out := OBDStatistics{Thresholds: a.classifier.catalog.Subset(ParamCoolantTemp), TimeRange: w}
	rule, err := a.classifier.catalog.Get(ParamCoolantTemp)
	if err != nil {
		return OBDStatistics{}, err
	}

	var rpm, coolant, load []float64
	overheating, faulty := 0, 0
	for _, r := range sortedByTime(readings) {
		o := r.OBD
		if o == nil {
			continue
		}
		rpm = append(rpm, o.EngineRPM)
		coolant = append(coolant, o.CoolantTemp)
		load = append(load, o.EngineLoad)
		if sev, _ := severityOf(rule, o.CoolantTemp); sev != models.SeverityNone {
			overheating++
		}
		if len(o.FaultCodes) > 0 {
			faulty++
		}
	}

	n := len(rpm)
	out.Summary.TotalReadings = n
	out.Summary.AverageRPM = round(mean(rpm), 0)
	out.Summary.AverageCoolantTemp = round(mean(coolant), 1)
	out.Summary.AverageEngineLoad = round(mean(load), 1)
	out.Overheating = share(overheating, n)
	out.WithFaultCodes = share(faulty, n)
	out.Trends.CoolantTrend = trendOf(coolant, rule.NoiseFloor)
	return out, nil
}

// trendOf compares the mean of the first half of values with the mean of
// the second half. Differences below floor are STABLE.
func trendOf(values []float64, floor float64) Trend {
	n := len(values)
	if n < 2 {
		return TrendStable
	}
	first := stat.Mean(values[:n/2], nil)
	second := stat.Mean(values[n/2:], nil)
	diff := second - first
	switch {
	case math.Abs(diff) < floor:
		return TrendStable
	case diff > 0:
		return TrendIncreasing
	default:
		return TrendDecreasing
	}
}

func efficiencyTrendOf(consumption Trend) EfficiencyTrend {
	switch consumption {
	case TrendDecreasing:
		return EfficiencyImproving
	case TrendIncreasing:
		return EfficiencyDeclining
	default:
		return EfficiencyStable
	}
}

func share(count, total int) BucketShare {
	if total == 0 {
		return BucketShare{Count: 0, Percentage: "0"}
	}
	pct := decimal.NewFromInt(int64(count)).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(int64(total)))
	return BucketShare{Count: count, Percentage: pct.StringFixed(1)}
}

func sortedByTime(readings []models.Reading) []models.Reading {
	out := append([]models.Reading(nil), readings...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}
