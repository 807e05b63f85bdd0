package schema

// Song is one row of the songs dimension.
type Song struct {
	SongID   string
	Title    string
	ArtistID string
	Year     int
	Duration float64
}

func (s Song) Row() []any {
	return []any{s.SongID, s.Title, s.ArtistID, s.Year, s.Duration}
}

// Artist is one row of the artists dimension. Location and coordinates are
// often missing from the catalogue.
type Artist struct {
	ArtistID  string
	Name      string
	Location  *string
	Latitude  *float64
	Longitude *float64
}

func (a Artist) Row() []any {
	return []any{a.ArtistID, a.Name, strOrNil(a.Location), floatOrNil(a.Latitude), floatOrNil(a.Longitude)}
}

// User is one row of the users dimension.
type User struct {
	UserID    int64
	FirstName string
	LastName  string
	Gender    string
	Level     string
}

func (u User) Row() []any {
	return []any{u.UserID, u.FirstName, u.LastName, u.Gender, u.Level}
}

// SongPlay is one row of the fact table. SongID and ArtistID are nil when the
// event did not match the catalogue.
type SongPlay struct {
	StartTime string
	UserID    int64
	Level     string
	SongID    *string
	ArtistID  *string
	SessionID int64
	Location  string
	UserAgent string
}

func (p SongPlay) Row() []any {
	return []any{
		p.StartTime,
		p.UserID,
		p.Level,
		strOrNil(p.SongID),
		strOrNil(p.ArtistID),
		p.SessionID,
		p.Location,
		p.UserAgent,
	}
}

func strOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
