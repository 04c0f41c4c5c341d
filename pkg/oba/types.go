package oba

// Response is the OneBusAway REST envelope.
type Response[T any] struct {
	Code        int    `json:"code"`
	CurrentTime int64  `json:"currentTime"`
	Text        string `json:"text"`
	Version     int    `json:"version"`
	Data        T      `json:"data"`
}

// ListData is the data block of list endpoints.
type ListData[T any] struct {
	LimitExceeded bool       `json:"limitExceeded"`
	List          []T        `json:"list"`
	References    References `json:"references"`
}

// References carries the canonical records referenced by a list.
type References struct {
	Agencies []AgencyReference `json:"agencies"`
}

// AgencyLookup indexes the referenced agencies by ID.
func (r References) AgencyLookup() map[string]AgencyReference {
	lookup := make(map[string]AgencyReference, len(r.Agencies))
	for _, a := range r.Agencies {
		lookup[a.ID] = a
	}
	return lookup
}

// AgencyReference is the canonical agency record.
type AgencyReference struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	URL            string `json:"url,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	Lang           string `json:"lang,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Email          string `json:"email,omitempty"`
	FareURL        string `json:"fareUrl,omitempty"`
	Disclaimer     string `json:"disclaimer,omitempty"`
	PrivateService bool   `json:"privateService,omitempty"`
}

// Agency is one transit operator and the area it covers.
type Agency struct {
	AgencyID string  `json:"agencyId"`
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	LatSpan  float64 `json:"latSpan"`
	LonSpan  float64 `json:"lonSpan"`
}

// Route is a transit route. AgencyInfo is joined from the references block of
// the routes-for-agency response.
type Route struct {
	ID          string           `json:"id"`
	AgencyID    string           `json:"agencyId"`
	ShortName   string           `json:"shortName"`
	LongName    string           `json:"longName"`
	Description string           `json:"description,omitempty"`
	Type        int              `json:"type"`
	URL         string           `json:"url,omitempty"`
	Color       string           `json:"color,omitempty"`
	TextColor   string           `json:"textColor,omitempty"`
	AgencyInfo  *AgencyReference `json:"agencyInfo,omitempty"`
}

// RouteList is the decoded routes-for-agency payload.
type RouteList struct {
	Routes     []Route
	References References
}
