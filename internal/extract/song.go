package extract

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"

	"sparkify/internal/schema"
)

// songKeys must all be present in a song document. Only the artist's
// location and coordinates may be null.
var songKeys = []string{
	"song_id", "title", "artist_id", "year", "duration",
	"artist_name", "artist_location", "artist_latitude", "artist_longitude",
}

type songDoc struct {
	SongID          *string  `json:"song_id"`
	Title           *string  `json:"title"`
	ArtistID        *string  `json:"artist_id"`
	Year            *int     `json:"year"`
	Duration        *float64 `json:"duration"`
	ArtistName      *string  `json:"artist_name"`
	ArtistLocation  *string  `json:"artist_location"`
	ArtistLatitude  *float64 `json:"artist_latitude"`
	ArtistLongitude *float64 `json:"artist_longitude"`
}

// ReadSong reads one song file and returns its song, its artist and the
// number of bytes read.
func ReadSong(fsys afero.Fs, path string) (schema.Song, schema.Artist, int64, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return schema.Song{}, schema.Artist{}, 0, fmt.Errorf("read %s: %w", path, err)
	}
	song, artist, err := ParseSong(path, data)
	return song, artist, int64(len(data)), err
}

// ParseSong decodes a single JSON object holding one song and its artist.
//
// Errors are *ParseError: invalid JSON, a missing key, a null song_id or
// artist_id, or a value of the wrong JSON type.
func ParseSong(path string, data []byte) (schema.Song, schema.Artist, error) {
	var present map[string]json.RawMessage
	if err := json.Unmarshal(data, &present); err != nil {
		return schema.Song{}, schema.Artist{}, &ParseError{Path: path, Err: err}
	}
	if missing := missingKeys(present, songKeys); len(missing) > 0 {
		return schema.Song{}, schema.Artist{}, &ParseError{Path: path, Err: fmt.Errorf("missing keys %v", missing)}
	}

	var doc songDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return schema.Song{}, schema.Artist{}, &ParseError{Path: path, Err: err}
	}
	if doc.SongID == nil || doc.ArtistID == nil {
		return schema.Song{}, schema.Artist{}, &ParseError{Path: path, Err: fmt.Errorf("song_id and artist_id must not be null")}
	}

	song := schema.Song{
		SongID:   *doc.SongID,
		Title:    deref(doc.Title),
		ArtistID: *doc.ArtistID,
		Duration: derefFloat(doc.Duration),
	}
	if doc.Year != nil {
		song.Year = *doc.Year
	}
	artist := schema.Artist{
		ArtistID:  *doc.ArtistID,
		Name:      deref(doc.ArtistName),
		Location:  doc.ArtistLocation,
		Latitude:  doc.ArtistLatitude,
		Longitude: doc.ArtistLongitude,
	}
	return song, artist, nil
}

func missingKeys(present map[string]json.RawMessage, want []string) []string {
	var out []string
	for _, k := range want {
		if _, ok := present[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
