// Package geodata downloads the free db-ip country dataset and loads
// it into the store so sessions can be geocoded without calling an
// external service per request.
package geodata

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/xps/palmalytics/internal/db"
)

// Store is the slice of the data store the updater needs.
type Store interface {
	GeocodingDataVersion() (string, error)
	ImportGeolocData(ranges []db.GeolocRange, version string) error
}

// Updater keeps the geolocation dataset current. Datasets are published
// monthly; the version marker is the "yyyy-mm" month identifier.
type Updater struct {
	store       Store
	logger      *zap.Logger
	urlTemplate string
	client      *http.Client
}

func NewUpdater(store Store, logger *zap.Logger, urlTemplate string) *Updater {
	return &Updater{
		store:       store,
		logger:      logger,
		urlTemplate: urlTemplate,
		client:      &http.Client{Timeout: 5 * time.Minute},
	}
}

// CurrentVersion returns the identifier of the newest dataset expected
// to exist. The previous day's month is used so a fresh deployment on
// the 1st doesn't ask for a dataset that isn't published yet.
func CurrentVersion(now time.Time) string {
	return now.UTC().AddDate(0, 0, -1).Format("2006-01")
}

// Run performs one staleness check and update, logging instead of
// returning errors. Meant to be launched as a background goroutine at
// startup.
func (u *Updater) Run(ctx context.Context) {
	if err := u.UpdateIfStale(ctx); err != nil {
		u.logger.Error("geolocation data update failed", zap.Error(err))
	}
}

// UpdateIfStale downloads and imports the newest dataset unless the
// stored version is already current.
func (u *Updater) UpdateIfStale(ctx context.Context) error {
	version := CurrentVersion(time.Now())

	current, err := u.store.GeocodingDataVersion()
	if err != nil {
		return err
	}
	if current >= version {
		u.logger.Debug("geolocation data is up to date", zap.String("version", current))
		return nil
	}

	u.logger.Info("updating geolocation data",
		zap.String("current_version", current),
		zap.String("new_version", version))

	ranges, err := u.download(ctx, version)
	if err != nil {
		return err
	}
	if err := u.store.ImportGeolocData(ranges, version); err != nil {
		return err
	}

	u.logger.Info("geolocation data updated",
		zap.String("version", version),
		zap.Int("ranges", len(ranges)))
	return nil
}

func (u *Updater) download(ctx context.Context, version string) ([]db.GeolocRange, error) {
	url := fmt.Sprintf(u.urlTemplate, version)
	u.logger.Debug("downloading geolocation data", zap.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, xerrors.Errorf("build geolocation request: %w", err)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, xerrors.Errorf("download geolocation data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.Errorf("download geolocation data: unexpected status %d", resp.StatusCode)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, xerrors.Errorf("decompress geolocation data: %w", err)
	}
	defer gz.Close()

	return ParseRanges(gz)
}

// ParseRanges reads the db-ip CSV format: one "start,end,country" line
// per range, IPv4 and IPv6 mixed. Lines that don't have three fields
// are skipped.
func ParseRanges(r io.Reader) ([]db.GeolocRange, error) {
	var ranges []db.GeolocRange

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			continue
		}

		start := net.ParseIP(parts[0])
		end := net.ParseIP(parts[1])
		if start == nil || end == nil {
			return nil, xerrors.Errorf("invalid IP range %q", line)
		}

		rng, err := db.NewGeolocRange(start, end, strings.ToUpper(parts[2]))
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, rng)
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.Errorf("read geolocation data: %w", err)
	}

	if len(ranges) == 0 {
		return nil, xerrors.New("no geolocation data found")
	}
	return ranges, nil
}
