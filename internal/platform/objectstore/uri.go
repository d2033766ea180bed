package objectstore

import (
	"fmt"
	"strings"
)

const (
	SchemeGCS = "gs"
	SchemeS3  = "s3"
)

// Location is a parsed object URI such as gs://bucket/a/b.
type Location struct {
	Scheme string
	Bucket string
	Key    string
}

func ParseURI(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return Location{}, fmt.Errorf("object uri %q has no scheme", raw)
	}
	if scheme != SchemeGCS && scheme != SchemeS3 {
		return Location{}, fmt.Errorf("object uri %q: unsupported scheme %q", raw, scheme)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("object uri %q has no bucket", raw)
	}
	return Location{Scheme: scheme, Bucket: bucket, Key: strings.Trim(key, "/")}, nil
}

// Join returns l with elems appended to its key.
func (l Location) Join(elems ...string) Location {
	parts := make([]string, 0, len(elems)+1)
	if l.Key != "" {
		parts = append(parts, l.Key)
	}
	for _, e := range elems {
		if e = strings.Trim(e, "/"); e != "" {
			parts = append(parts, e)
		}
	}
	l.Key = strings.Join(parts, "/")
	return l
}

func (l Location) String() string {
	if l.Key == "" {
		return fmt.Sprintf("%s://%s/", l.Scheme, l.Bucket)
	}
	return fmt.Sprintf("%s://%s/%s", l.Scheme, l.Bucket, l.Key)
}
