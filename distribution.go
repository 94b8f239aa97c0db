package trafficsim

//
// Daily traffic distribution
//

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"

	"github.com/montanaflynn/stats"
)

// TrafficDistribution is the daily profile of the traffic volume, which
// consists of (time of day in seconds, volume) samples.
type TrafficDistribution struct {
	// TimesOfDay contains the times of the day in seconds.
	TimesOfDay []float64

	// Volumes contains the traffic volume at each time of the day.
	Volumes []float64
}

// ErrEmptyDistribution indicates that a [TrafficDistribution] has no samples.
var ErrEmptyDistribution = errors.New("trafficsim: empty traffic distribution")

// LoadTrafficDistribution reads a [TrafficDistribution] from a CSV file
// with a header row, the time of the day in the first column, and the
// traffic volume in the second column.
func LoadTrafficDistribution(path string) (*TrafficDistribution, error) {
	filep, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer filep.Close()
	return ReadTrafficDistribution(filep)
}

// ReadTrafficDistribution is like [LoadTrafficDistribution] but reads
// from the given reader.
func ReadTrafficDistribution(r io.Reader) (*TrafficDistribution, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) <= 1 {
		return nil, ErrEmptyDistribution
	}
	td := &TrafficDistribution{}
	for lineno, record := range records[1:] {
		if len(record) < 2 {
			return nil, fmt.Errorf("trafficsim: distribution line %d: expected two columns", lineno+2)
		}
		tod, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, fmt.Errorf("trafficsim: distribution line %d: %w", lineno+2, err)
		}
		volume, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, fmt.Errorf("trafficsim: distribution line %d: %w", lineno+2, err)
		}
		td.TimesOfDay = append(td.TimesOfDay, tod)
		td.Volumes = append(td.Volumes, volume)
	}
	return td, nil
}

// TrafficPlanConfig contains config for [TrafficDistribution.Plan]. Make
// sure you initialize all the fields marked as MANDATORY.
type TrafficPlanConfig struct {
	// Duration is the MANDATORY duration of the plan in seconds.
	Duration float64

	// NoiseRatio is the OPTIONAL ratio between the uniform noise
	// amplitude and the range of the sampled volumes. When zero, we
	// use 0.05. A negative value disables noise.
	NoiseRatio float64

	// Rand is the OPTIONAL random number generator for the noise.
	Rand *rand.Rand

	// StartTimeOfDay is the OPTIONAL time of the day in seconds at
	// which the plan starts.
	StartTimeOfDay float64

	// TimeStep is the OPTIONAL discretization step in seconds. When
	// zero, we use 0.1 seconds.
	TimeStep float64

	// TotalRequests is the MANDATORY total number of requests.
	TotalRequests int
}

// Plan samples the distribution every TimeStep seconds from StartTimeOfDay
// using periodic linear interpolation, adds uniform noise, and rescales
// the result to TotalRequests. The returned plan only contains the
// steps with at least one request. Because of rounding, the total number
// of planned requests is close to, but not always equal to, TotalRequests.
func (td *TrafficDistribution) Plan(config *TrafficPlanConfig) ([]PlannedRequests, error) {
	if len(td.TimesOfDay) <= 0 || len(td.TimesOfDay) != len(td.Volumes) {
		return nil, ErrEmptyDistribution
	}
	if config.TotalRequests <= 0 || config.Duration <= 0 {
		return []PlannedRequests{}, nil
	}
	step := config.TimeStep
	if step <= 0 {
		step = 0.1
	}
	noiseRatio := config.NoiseRatio
	switch {
	case noiseRatio == 0:
		noiseRatio = 0.05
	case noiseRatio < 0:
		noiseRatio = 0
	}
	rnd := config.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Int63()))
	}

	// sample the volume at each step
	count := int(config.Duration / step)
	if count <= 0 {
		return []PlannedRequests{}, nil
	}
	samples := newPeriodicSamples(td.TimesOfDay, td.Volumes, secondsInADay)
	simTimes := make([]float64, count)
	volumes := make([]float64, count)
	for idx := 0; idx < count; idx++ {
		simTimes[idx] = float64(idx) * step
		volumes[idx] = samples.at(config.StartTimeOfDay + simTimes[idx])
	}

	// add noise
	maxVolume, err := stats.Max(volumes)
	if err != nil {
		return nil, err
	}
	minVolume, err := stats.Min(volumes)
	if err != nil {
		return nil, err
	}
	noiseRange := (maxVolume - minVolume) * noiseRatio
	for idx := range volumes {
		if noiseRange > 0 {
			volumes[idx] += (rnd.Float64()*2 - 1) * noiseRange
		}
		volumes[idx] = math.Max(volumes[idx], 0)
	}

	// rescale to the total number of requests
	sum, err := stats.Sum(volumes)
	if err != nil {
		return nil, err
	}
	if sum <= 0 {
		return []PlannedRequests{}, nil
	}
	scale := float64(config.TotalRequests) / sum
	plan := []PlannedRequests{}
	for idx, volume := range volumes {
		if requests := int(math.RoundToEven(volume * scale)); requests > 0 {
			plan = append(plan, PlannedRequests{SimTime: simTimes[idx], Count: requests})
		}
	}
	return plan, nil
}

// periodicSamples is a table of samples sorted by x, with one extra
// sample at each end wrapping around the period boundaries.
type periodicSamples struct {
	period float64
	x      []float64
	y      []float64
}

// newPeriodicSamples prepares the (xp, fp) samples for interpolation,
// taking xp modulo period. Both slices must have the same nonzero length.
func newPeriodicSamples(xp, fp []float64, period float64) *periodicSamples {
	order := make([]int, len(xp))
	for idx := range order {
		order[idx] = idx
	}
	sort.SliceStable(order, func(i, j int) bool {
		return positiveMod(xp[order[i]], period) < positiveMod(xp[order[j]], period)
	})
	ps := &periodicSamples{
		period: period,
		x:      make([]float64, 0, len(xp)+2),
		y:      make([]float64, 0, len(xp)+2),
	}
	first, last := order[0], order[len(order)-1]
	ps.x = append(ps.x, positiveMod(xp[last], period)-period)
	ps.y = append(ps.y, fp[last])
	for _, idx := range order {
		ps.x = append(ps.x, positiveMod(xp[idx], period))
		ps.y = append(ps.y, fp[idx])
	}
	ps.x = append(ps.x, positiveMod(xp[first], period)+period)
	ps.y = append(ps.y, fp[first])
	return ps
}

// at is the linear interpolation of the samples at x modulo period.
func (ps *periodicSamples) at(x float64) float64 {
	x = positiveMod(x, ps.period)
	idx := sort.SearchFloat64s(ps.x, x)
	switch {
	case idx <= 0:
		return ps.y[0]
	case idx >= len(ps.x):
		return ps.y[len(ps.y)-1]
	}
	if ps.x[idx] == ps.x[idx-1] {
		return ps.y[idx]
	}
	return ps.y[idx-1] + (ps.y[idx]-ps.y[idx-1])*(x-ps.x[idx-1])/(ps.x[idx]-ps.x[idx-1])
}

// positiveMod returns x modulo period in [0, period).
func positiveMod(x, period float64) float64 {
	v := math.Mod(x, period)
	if v < 0 {
		v += period
	}
	return v
}
