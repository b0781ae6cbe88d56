package status

import (
	"context"
	"errors"
	"testing"

	"mirrorctl/internal/manifest"
	"mirrorctl/internal/model"

	"github.com/stretchr/testify/require"
)

type fakeJobs map[string]model.MirrorStatus

func (f fakeJobs) Job(_ context.Context, name string) (model.MirrorStatus, bool) {
	job, ok := f[name]
	return job, ok
}

type fakeCluster struct {
	conf    map[string]string
	pods    []model.PodInfo
	df      string
	dfErr   error
	claims  map[string]string
	usage   map[string]string
	execLog [][]string
}

func (f *fakeCluster) WorkerConf(_ context.Context, name string) (string, error) {
	conf, ok := f.conf[name]
	if !ok {
		return "", errors.New("not found")
	}
	return conf, nil
}

func (f *fakeCluster) Pods(_ context.Context, _ string, ready bool) ([]model.PodInfo, error) {
	var pods []model.PodInfo
	for _, p := range f.pods {
		if ready && !p.Ready {
			continue
		}
		pods = append(pods, p)
	}
	return pods, nil
}

func (f *fakeCluster) Usage(context.Context, string) map[string]string {
	return f.usage
}

func (f *fakeCluster) ClaimSize(_ context.Context, name string) string {
	return f.claims[name]
}

func (f *fakeCluster) Exec(_ context.Context, _ string, command []string) (string, error) {
	f.execLog = append(f.execLog, command)
	return f.df, f.dfErr
}

type fakeLogs map[string][]string

func (f fakeLogs) Lines(name string, n int) ([]string, error) {
	lines := f[name]
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

func rsyncConf(t *testing.T, name string) string {
	t.Helper()

	conf, err := manifest.WorkerConf(name, "http://tunasync-manager:14242", model.JobSpec{
		Upstream: "rsync://example.org/" + name + "/",
		Provider: model.ProviderRsync,
	})
	require.NoError(t, err)
	return conf
}

func readyPod() []model.PodInfo {
	return []model.PodInfo{
		{Name: "debian-7d9f", Ready: false},
		{Name: "debian-5c2a", Ready: true},
	}
}

func TestComputeSizeFromSuccessLog(t *testing.T) {
	cluster := &fakeCluster{pods: readyPod(), df: "  Used\n1024\n"}
	a := New(
		fakeJobs{"debian": {Name: "debian", Status: model.StatusSuccess, Size: "1.0T"}},
		cluster,
		fakeLogs{"debian": {
			"2024/01/01 rsync finished",
			"Total file size: 12.3G bytes",
			"sent 1.2K bytes",
		}},
	)

	require.Equal(t, "12.3G", a.ComputeSize(context.Background(), "debian"))
	require.Equal(t, [][]string{{"df", "/data/mirrors/debian", "--output=used"}}, cluster.execLog)
}

func TestComputeSizeKeepsLargestLogToken(t *testing.T) {
	a := New(
		fakeJobs{"pypi": {Name: "pypi", Status: model.StatusSuccess}},
		&fakeCluster{},
		fakeLogs{"pypi": {
			"size of index 20.5M",
			"total size 3.25T",
			"size of delta 88.1G",
		}},
	)

	require.Equal(t, "3.25T", a.ComputeSize(context.Background(), "pypi"))
}

func TestComputeSizeDfWins(t *testing.T) {
	a := New(
		fakeJobs{"debian": {Name: "debian", Status: model.StatusSuccess}},
		&fakeCluster{pods: readyPod(), df: "Used\n12897485\n"},
		fakeLogs{"debian": {"Total file size: 10.5G"}},
	)

	require.Equal(t, "12.3G", a.ComputeSize(context.Background(), "debian"))
}

func TestComputeSizeWhileSyncing(t *testing.T) {
	t.Run("rsync progress line", func(t *testing.T) {
		a := New(
			fakeJobs{"debian": {Name: "debian", Status: model.StatusSyncing}},
			&fakeCluster{conf: map[string]string{"debian": rsyncConf(t, "debian")}},
			fakeLogs{"debian": {
				"pool/main/a/apt/apt_2.6.1_amd64.deb",
				"    100M  45%   10.00MB/s    0:01:00 (xfr#12, to-chk=40/100)",
			}},
		)

		require.Equal(t, "95.3M", a.ComputeSize(context.Background(), "debian"))
	})

	t.Run("fractional winner is kept", func(t *testing.T) {
		a := New(
			fakeJobs{"debian": {Name: "debian", Status: model.StatusSyncing, Size: "1.2T"}},
			&fakeCluster{conf: map[string]string{"debian": rsyncConf(t, "debian")}},
			fakeLogs{"debian": {"  0.54G  10%   1.00MB/s    2:00:00"}},
		)

		require.Equal(t, "0.5G", a.ComputeSize(context.Background(), "debian"))
	})

	t.Run("unreadable config skips the log", func(t *testing.T) {
		a := New(
			fakeJobs{"debian": {Name: "debian", Status: model.StatusSyncing, Size: "1.2T"}},
			&fakeCluster{},
			fakeLogs{"debian": {"    100M  45%   10.00MB/s    0:01:00"}},
		)

		require.Equal(t, "1.2T", a.ComputeSize(context.Background(), "debian"))
	})
}

func TestComputeSizeFallback(t *testing.T) {
	tests := []struct {
		name   string
		cached string
		df     string
		want   string
	}{
		{name: "cached size", cached: "1.5T", want: "1.5T"},
		{name: "unknown sentinel", cached: model.SizeUnknown, want: ""},
		{name: "zero df", cached: "2.0G", df: "Used\n0\n", want: "2.0G"},
		{name: "garbage df", cached: "2.0G", df: "df: no such file\n", want: "2.0G"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(
				fakeJobs{"debian": {Name: "debian", Status: model.StatusFailed, Size: tt.cached}},
				&fakeCluster{pods: readyPod(), df: tt.df},
				fakeLogs{},
			)
			require.Equal(t, tt.want, a.ComputeSize(context.Background(), "debian"))
		})
	}
}

func TestComputeSizeUnknownJob(t *testing.T) {
	cluster := &fakeCluster{pods: readyPod(), df: "Used\n1024\n"}
	a := New(fakeJobs{}, cluster, fakeLogs{})

	require.Empty(t, a.ComputeSize(context.Background(), "ghost"))
	require.Empty(t, cluster.execLog)
}

func TestComputeSizeExecFailure(t *testing.T) {
	a := New(
		fakeJobs{"debian": {Name: "debian", Status: model.StatusSuccess, Size: "3.0G"}},
		&fakeCluster{pods: readyPod(), dfErr: errors.New("container not running")},
		fakeLogs{},
	)

	require.Equal(t, "3.0G", a.ComputeSize(context.Background(), "debian"))
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	cluster := &fakeCluster{
		conf:   map[string]string{"debian": rsyncConf(t, "debian")},
		pods:   readyPod(),
		claims: map[string]string{"debian-data": "2Ti"},
		usage:  map[string]string{"cpu": "10m", "memory": "64Mi"},
	}
	logs := fakeLogs{"debian": {
		"pool/main/l/linux/linux-image_6.1.deb",
		"  1.23G  45%   10.00MB/s    0:01:00 (xfr#123, to-chk=456/789)",
	}}

	t.Run("syncing rsync job", func(t *testing.T) {
		a := New(fakeJobs{"debian": {Name: "debian", Status: model.StatusSyncing}}, cluster, logs)

		st := a.Status(ctx, "debian", model.ProviderRsync)
		require.Equal(t, model.StatusSyncing, st.Status)
		require.Equal(t, "2Ti", st.DataSize)
		require.Len(t, st.Pods, 2)
		require.Equal(t, "64Mi", st.Pods[0].Usage["memory"])
		require.NotNil(t, st.Transfer)
		require.Equal(t, 123, st.Checked)
		require.Equal(t, "linux-image_6.1.deb", st.FileName)
	})

	t.Run("command job has no transfer", func(t *testing.T) {
		a := New(fakeJobs{"debian": {Name: "debian", Status: model.StatusSyncing}}, cluster, logs)
		require.Nil(t, a.Status(ctx, "debian", model.ProviderCommand).Transfer)
	})

	t.Run("job unknown to the manager is disabled", func(t *testing.T) {
		a := New(fakeJobs{}, cluster, logs)

		st := a.Status(ctx, "debian", model.ProviderRsync)
		require.Equal(t, "debian", st.Name)
		require.Equal(t, model.StatusDisabled, st.Status)
		require.Nil(t, st.Transfer)
	})
}

func TestParseTransfer(t *testing.T) {
	t.Run("progress and file name", func(t *testing.T) {
		got := ParseTransfer([]string{
			"debian/pool/main/a/apt/apt_2.6.1_amd64.deb",
			"  1.23G  45%   10.00MB/s    0:01:00 (xfr#123, to-chk=456/789)",
			"",
		})

		require.Equal(t, &model.Transfer{
			FileName:    "apt_2.6.1_amd64.deb",
			Transferred: "1.15G",
			Rate:        "45%",
			Speed:       "10.00MB/s",
			Remain:      "0:01:00",
			Checked:     123,
			Remaining:   456,
			Total:       789,
		}, got)
	})

	t.Run("incremental recursion counters", func(t *testing.T) {
		got := ParseTransfer([]string{"    512K   1%  100.00kB/s    0:10:00 (xfr#5, ir-chk=1000/2000)"})
		require.Equal(t, 5, got.Checked)
		require.Equal(t, 1000, got.Remaining)
		require.Equal(t, 2000, got.Total)
	})

	t.Run("missing counters are zeroed", func(t *testing.T) {
		got := ParseTransfer([]string{"  1.23G  45%   10.00MB/s    0:01:00"})
		require.Equal(t, "45%", got.Rate)
		require.Zero(t, got.Checked)
		require.Zero(t, got.Remaining)
		require.Zero(t, got.Total)
	})

	t.Run("malformed counters are zeroed", func(t *testing.T) {
		got := ParseTransfer([]string{"  1.23G  45%   10.00MB/s    0:01:00 (xfr#x, to-chk=4/9)"})
		require.Zero(t, got.Checked)
		require.Zero(t, got.Remaining)
		require.Zero(t, got.Total)
	})

	t.Run("empty", func(t *testing.T) {
		require.Equal(t, &model.Transfer{}, ParseTransfer(nil))
	})
}
