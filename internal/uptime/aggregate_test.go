package uptime

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"domainwatch/internal/models"
)

func ptr[T any](v T) *T { return &v }

func check(status models.CheckStatus, at time.Time, rt int64) models.Check {
	c := models.Check{EndpointID: "d_1", Status: status, CheckedAt: at}
	if status == models.StatusUp {
		c.ResponseTimeMS = ptr(rt)
	}
	return c
}

func TestUptimePercentage(t *testing.T) {
	tests := []struct {
		successful, total int
		want              float64
	}{
		{8, 10, 80.0},
		{0, 0, 100},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{0, 5, 0},
	}
	for _, tt := range tests {
		if got := UptimePercentage(tt.successful, tt.total); got != tt.want {
			t.Errorf("UptimePercentage(%d, %d) = %v, want %v", tt.successful, tt.total, got, tt.want)
		}
	}
}

func TestBuildStateNoChecks(t *testing.T) {
	e := models.Endpoint{ID: "d_1", Hostname: "example.com"}
	got := BuildState(e, models.CheckSummary{EndpointID: "d_1"}, 5)

	if got.UptimePercentage != 100 {
		t.Errorf("expected 100%% uptime without data, got %v", got.UptimePercentage)
	}
	if got.CurrentStatus != models.StatusUnknown {
		t.Errorf("expected unknown status, got %s", got.CurrentStatus)
	}
	if got.AvgResponseTimeMS != nil || got.LastCheckedAt != nil {
		t.Error("expected nil average and last checked time")
	}
	if len(got.Heartbeats) != 5 {
		t.Fatalf("expected 5 heartbeats, got %d", len(got.Heartbeats))
	}
	for i, hb := range got.Heartbeats {
		if hb.Status != models.HeartbeatNone {
			t.Errorf("heartbeat %d: expected none, got %s", i, hb.Status)
		}
	}
}

func TestBuildStateEightOfTen(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// newest first: down, down, then eight ups
	var recent []models.Check
	for i := 0; i < 10; i++ {
		status := models.StatusUp
		if i < 2 {
			status = models.StatusDown
		}
		recent = append(recent, check(status, base.Add(-time.Duration(i)*time.Minute), 100))
	}
	sum := models.CheckSummary{
		EndpointID:          "d_1",
		TotalChecks:         10,
		SuccessfulChecks:    8,
		AvgResponseTimeMS:   ptr(123.5),
		ConsecutiveFailures: 2,
		Recent:              recent,
	}
	got := BuildState(models.Endpoint{ID: "d_1", Hostname: "example.com"}, sum, 10)

	if got.UptimePercentage != 80.0 {
		t.Errorf("expected 80.0, got %v", got.UptimePercentage)
	}
	if got.CurrentStatus != models.StatusDown {
		t.Errorf("expected down, got %s", got.CurrentStatus)
	}
	if got.ConsecutiveFailures != 2 {
		t.Errorf("expected 2 consecutive failures, got %d", got.ConsecutiveFailures)
	}
	if got.AvgResponseTimeMS == nil || *got.AvgResponseTimeMS != 124 {
		t.Errorf("expected rounded average 124, got %v", got.AvgResponseTimeMS)
	}
	if got.LastCheckedAt == nil || !got.LastCheckedAt.Equal(base) {
		t.Errorf("expected last checked at %s, got %v", base, got.LastCheckedAt)
	}
	last := got.Heartbeats[len(got.Heartbeats)-1]
	if last.Status != models.HeartbeatDown {
		t.Errorf("expected newest heartbeat last and down, got %s", last.Status)
	}
}

func TestHeartbeats(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newestFirst := []models.Check{
		check(models.StatusDown, base, 0),
		check(models.StatusUp, base.Add(-time.Minute), 10),
		check(models.StatusUp, base.Add(-2*time.Minute), 10),
	}

	tests := []struct {
		name string
		n    int
		want []models.HeartbeatStatus
	}{
		{"padded", 5, []models.HeartbeatStatus{"none", "none", "up", "up", "down"}},
		{"exact", 3, []models.HeartbeatStatus{"up", "up", "down"}},
		{"truncated", 2, []models.HeartbeatStatus{"up", "down"}},
		{"zero", 0, []models.HeartbeatStatus{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hbs := Heartbeats(newestFirst, tt.n)
			got := make([]models.HeartbeatStatus, len(hbs))
			for i, hb := range hbs {
				got[i] = hb.Status
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Heartbeats mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBucketsNoChecks(t *testing.T) {
	end := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	got := Buckets(nil, end, 24*time.Hour, 24)
	if len(got) != 24 {
		t.Fatalf("expected 24 buckets, got %d", len(got))
	}
	for i, b := range got {
		if b.Status != models.HeartbeatNone || b.UpCount != 0 || b.DownCount != 0 || b.AvgResponseTimeMS != nil {
			t.Errorf("bucket %d: expected empty none bucket, got %+v", i, b)
		}
	}
	if !got[0].Start.Equal(end.Add(-24 * time.Hour)) {
		t.Errorf("expected first bucket to start at window start, got %s", got[0].Start)
	}
	if !got[23].End.Equal(end) {
		t.Errorf("expected last bucket to end at window end, got %s", got[23].End)
	}
	for i := 1; i < len(got); i++ {
		if !got[i].Start.Equal(got[i-1].End) {
			t.Errorf("bucket %d does not start where bucket %d ends", i, i-1)
		}
	}
}

func TestBucketsClassification(t *testing.T) {
	end := time.Date(2026, 1, 1, 4, 0, 0, 0, time.UTC)
	start := end.Add(-4 * time.Hour)
	checks := []models.Check{
		check(models.StatusUp, start.Add(-time.Minute), 5), // outside window
		check(models.StatusUp, start, 100),
		check(models.StatusUp, start.Add(30*time.Minute), 200),
		check(models.StatusDown, start.Add(time.Hour+time.Minute), 0),
		check(models.StatusUp, start.Add(2*time.Hour+time.Minute), 50),
		check(models.StatusDown, start.Add(2*time.Hour+2*time.Minute), 0),
		check(models.StatusUp, end, 70), // exactly at end goes to the last bucket
	}

	got := Buckets(checks, end, 4*time.Hour, 4)
	want := []struct {
		status   models.HeartbeatStatus
		up, down int
		avg      *int64
	}{
		{models.HeartbeatUp, 2, 0, ptr[int64](150)},
		{models.HeartbeatDown, 0, 1, nil},
		{models.HeartbeatPartial, 1, 1, ptr[int64](50)},
		{models.HeartbeatUp, 1, 0, ptr[int64](70)},
	}
	for i, w := range want {
		b := got[i]
		if b.Status != w.status || b.UpCount != w.up || b.DownCount != w.down {
			t.Errorf("bucket %d: got %s up=%d down=%d, want %s up=%d down=%d",
				i, b.Status, b.UpCount, b.DownCount, w.status, w.up, w.down)
		}
		if diff := cmp.Diff(w.avg, b.AvgResponseTimeMS); diff != "" {
			t.Errorf("bucket %d average mismatch (-want +got):\n%s", i, diff)
		}
	}
}
