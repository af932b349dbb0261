package dataset

// Series is the serving subset of a row in the `series` table of the
// installed dataset. Nullable columns map to pointer fields so the
// JSON output preserves nulls the way the origin publishes them.
type Series struct {
	ID                  int64   `json:"id"`
	State               *string `json:"state"`
	MergedWith          *int64  `json:"mergedWith"`
	Title               *string `json:"title"`
	NativeTitle         *string `json:"nativeTitle"`
	RomanizedTitle      *string `json:"romanizedTitle"`
	Description         *string `json:"description"`
	Year                *int64  `json:"year"`
	Status              *string `json:"status"`
	Type                *string `json:"type"`
	Rating              *int64  `json:"rating"`
	ContentRating       *string `json:"contentRating"`
	HasAnime            *int64  `json:"hasAnime"`
	FinalVolume         *string `json:"finalVolume"`
	FinalChapter        *string `json:"finalChapter"`
	TotalChapters       *string `json:"totalChapters"`
	Genres              *string `json:"genres"`
	Tags                *string `json:"tags"`
	Links               *string `json:"links"`
	LastUpdatedAt       *string `json:"lastUpdatedAt"`
	SourceAnilistID     *string `json:"sourceAnilistId"`
	SourceAnilistRating *string `json:"sourceAnilistRating"`
	SourceAnilistCover  *string `json:"sourceAnilistCover"`
}

// AnilistID returns the external identifier used as the cache key, or
// "" when the row has none.
func (s *Series) AnilistID() string {
	if s.SourceAnilistID == nil {
		return ""
	}
	return *s.SourceAnilistID
}
