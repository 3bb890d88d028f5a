package db

import (
	"net"

	"golang.org/x/xerrors"
	"gorm.io/gorm"
)

const importBatchSize = 1000

// NewGeolocRange builds a range row from a pair of addresses,
// normalizing IPv4 to 4 bytes so range comparisons work bytewise.
func NewGeolocRange(start, end net.IP, country string) (GeolocRange, error) {
	startBytes, startVersion := ipBytes(start)
	endBytes, endVersion := ipBytes(end)
	if startBytes == nil || endBytes == nil {
		return GeolocRange{}, xerrors.Errorf("invalid IP range %v - %v", start, end)
	}
	if startVersion != endVersion {
		return GeolocRange{}, xerrors.Errorf("mixed IP versions in range %v - %v", start, end)
	}
	return GeolocRange{
		RangeStart: startBytes,
		RangeEnd:   endBytes,
		IPVersion:  startVersion,
		Country:    country,
	}, nil
}

// CountryCodeForIP returns the ISO country code for the address, or ""
// when no imported range covers it. Lookups are cached per address;
// misses are cached too so repeat visitors from unmapped ranges don't
// hit the database every time.
func (s *Store) CountryCodeForIP(ip net.IP) (string, error) {
	bytes, version := ipBytes(ip)
	if bytes == nil {
		return "", xerrors.Errorf("invalid IP address %v", ip)
	}

	key := ip.String()
	if country, ok := s.geocodingCache.Get(key); ok {
		return country, nil
	}

	var country string
	err := s.db.Model(&GeolocRange{}).
		Select("country").
		Where("ip_version = ? AND ? BETWEEN range_start AND range_end", version, bytes).
		Order("range_start DESC").
		Limit(1).
		Find(&country).Error
	if err != nil {
		return "", xerrors.Errorf("geocoding lookup: %w", err)
	}

	s.geocodingCache.Add(key, country)
	return country, nil
}

// NeedsGeolocData reports whether the geolocation table is empty.
func (s *Store) NeedsGeolocData() (bool, error) {
	var hasData bool
	err := s.db.Model(&GeolocRange{}).Select("COUNT(1) > 0").Find(&hasData).Error
	if err != nil {
		return false, xerrors.Errorf("check geolocation data: %w", err)
	}
	return !hasData, nil
}

// ImportGeolocData atomically replaces the geolocation table with a new
// dataset and records its version marker. Lookups keep working against
// the old data until the transaction commits.
func (s *Store) ImportGeolocData(ranges []GeolocRange, version string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&GeolocRange{}).Error; err != nil {
			return xerrors.Errorf("clear geolocation data: %w", err)
		}
		if err := tx.CreateInBatches(ranges, importBatchSize).Error; err != nil {
			return xerrors.Errorf("insert geolocation data: %w", err)
		}
		return saveSetting(tx, settingGeocodingDataVersion, version)
	})
	if err != nil {
		return err
	}

	s.geocodingCache.Purge()
	return nil
}

func ipBytes(ip net.IP) ([]byte, int) {
	if v4 := ip.To4(); v4 != nil {
		return v4, 4
	}
	if v6 := ip.To16(); v6 != nil {
		return v6, 6
	}
	return nil, 0
}
