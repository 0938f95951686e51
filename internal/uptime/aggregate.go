package uptime

import (
	"math"
	"time"

	"domainwatch/internal/models"
)

// UptimePercentage rounds successful/total to two decimals. No data is
// reported as 100.
func UptimePercentage(successful, total int) float64 {
	if total <= 0 {
		return 100
	}
	return math.Round(float64(successful)/float64(total)*10000) / 100
}

// BuildState turns a raw summary into the derived per-endpoint state with
// exactly heartbeatCount heartbeats.
func BuildState(endpoint models.Endpoint, sum models.CheckSummary, heartbeatCount int) models.EndpointUptimeState {
	state := models.EndpointUptimeState{
		EndpointID:          endpoint.ID,
		Hostname:            endpoint.Hostname,
		TotalChecks:         sum.TotalChecks,
		SuccessfulChecks:    sum.SuccessfulChecks,
		UptimePercentage:    UptimePercentage(sum.SuccessfulChecks, sum.TotalChecks),
		CurrentStatus:       models.StatusUnknown,
		ConsecutiveFailures: sum.ConsecutiveFailures,
		Heartbeats:          Heartbeats(sum.Recent, heartbeatCount),
	}
	if sum.AvgResponseTimeMS != nil {
		avg := int64(math.Round(*sum.AvgResponseTimeMS))
		state.AvgResponseTimeMS = &avg
	}
	if len(sum.Recent) > 0 {
		latest := sum.Recent[0]
		state.CurrentStatus = latest.Status
		checkedAt := latest.CheckedAt
		state.LastCheckedAt = &checkedAt
	}
	return state
}

// Heartbeats takes checks ordered newest first and returns the most recent n
// of them oldest first, left-padded with none to exactly n entries.
func Heartbeats(newestFirst []models.Check, n int) []models.Heartbeat {
	if n <= 0 {
		return []models.Heartbeat{}
	}
	if len(newestFirst) > n {
		newestFirst = newestFirst[:n]
	}
	out := make([]models.Heartbeat, n)
	pad := n - len(newestFirst)
	for i := 0; i < pad; i++ {
		out[i] = models.Heartbeat{Status: models.HeartbeatNone}
	}
	for i, c := range newestFirst {
		out[n-1-i] = models.Heartbeat{Status: heartbeatStatus(c.Status)}
	}
	return out
}

func heartbeatStatus(s models.CheckStatus) models.HeartbeatStatus {
	if s == models.StatusUp {
		return models.HeartbeatUp
	}
	return models.HeartbeatDown
}

// Buckets splits [end-lookback, end) into count equal buckets and classifies
// each from the checks that fall inside it. A check at exactly end belongs to
// the last bucket; checks outside the window are ignored.
func Buckets(checks []models.Check, end time.Time, lookback time.Duration, count int) []models.HeartbeatBucket {
	if count <= 0 || lookback <= 0 {
		return []models.HeartbeatBucket{}
	}
	start := end.Add(-lookback)
	width := lookback / time.Duration(count)
	if width <= 0 {
		width = 1
	}

	type acc struct {
		up, down int
		rtSum    int64
		rtN      int64
	}
	accs := make([]acc, count)
	for _, c := range checks {
		if c.CheckedAt.Before(start) || c.CheckedAt.After(end) {
			continue
		}
		i := int(c.CheckedAt.Sub(start) / width)
		if i >= count {
			i = count - 1
		}
		if c.Status == models.StatusUp {
			accs[i].up++
			if c.ResponseTimeMS != nil {
				accs[i].rtSum += *c.ResponseTimeMS
				accs[i].rtN++
			}
		} else {
			accs[i].down++
		}
	}

	out := make([]models.HeartbeatBucket, count)
	for i, a := range accs {
		b := models.HeartbeatBucket{
			Start:     start.Add(time.Duration(i) * width),
			End:       start.Add(time.Duration(i+1) * width),
			UpCount:   a.up,
			DownCount: a.down,
		}
		if i == count-1 {
			b.End = end
		}
		switch {
		case a.up == 0 && a.down == 0:
			b.Status = models.HeartbeatNone
		case a.down == 0:
			b.Status = models.HeartbeatUp
		case a.up == 0:
			b.Status = models.HeartbeatDown
		default:
			b.Status = models.HeartbeatPartial
		}
		if a.rtN > 0 {
			avg := int64(math.Round(float64(a.rtSum) / float64(a.rtN)))
			b.AvgResponseTimeMS = &avg
		}
		out[i] = b
	}
	return out
}
