package model

// LicenseStatistics is the admin summary of issued and redeemed licenses.
type LicenseStatistics struct {
	TotalLicenses    int64            `json:"total_licenses"`
	UnusedLicenses   int64            `json:"unused_licenses"`
	RedeemedLicenses int64            `json:"redeemed_licenses"`
	RedeemedLastDay  int64            `json:"redeemed_last_day"`
	RedeemedLastWeek int64            `json:"redeemed_last_week"`
	DistinctHolders  int64            `json:"distinct_holders"`
	LicensesByDomain map[string]int64 `json:"licenses_by_domain"`
}

// GetRedemptionRate returns the share of issued licenses that have been redeemed.
func (ls *LicenseStatistics) GetRedemptionRate() float64 {
	if ls.TotalLicenses == 0 {
		return 0
	}
	return float64(ls.RedeemedLicenses) / float64(ls.TotalLicenses)
}

// GetLicensesByDomain returns how many licenses were issued to owners at domain.
func (ls *LicenseStatistics) GetLicensesByDomain(domain string) int64 {
	if count, ok := ls.LicensesByDomain[domain]; ok {
		return count
	}
	return 0
}
