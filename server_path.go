package rtspserver

import (
	"strconv"
	"strings"

	"github.com/netlab/rtspserver/pkg/base"
	"github.com/netlab/rtspserver/pkg/description"
	"github.com/netlab/rtspserver/pkg/liberrors"
)

const trackIDPrefix = "/trackID="

// splitPath returns the path and the query of a request URL.
// Clients append a slash to the path (GStreamer) or to the query (FFmpeg)
// when they build control URLs, and it is removed.
func splitPath(u *base.URL) (string, string) {
	if q, ok := strings.CutSuffix(u.RawQuery, "/"); ok {
		return u.Path, q
	}

	if len(u.Path) > 1 {
		if p, ok := strings.CutSuffix(u.Path, "/"); ok {
			return p, u.RawQuery
		}
	}

	return u.Path, u.RawQuery
}

// splitSetupPath returns the path, the query and the track ID of a SETUP URL.
// The track ID is the index of a media in the description, and defaults to
// the first media when the URL is the one of the stream.
func splitSetupPath(u *base.URL) (string, string, string, error) {
	// rtsp://host/path?query/trackID=N
	if i := strings.LastIndex(u.RawQuery, trackIDPrefix); i >= 0 {
		return u.Path, u.RawQuery[:i], u.RawQuery[i+len(trackIDPrefix):], nil
	}

	// rtsp://host/path/trackID=N?query
	if i := strings.LastIndex(u.Path, trackIDPrefix); i >= 0 {
		return u.Path[:i], u.RawQuery, u.Path[i+len(trackIDPrefix):], nil
	}

	path, query := splitPath(u)

	// without a track ID, a trailing slash or an empty path is required.
	if path == u.Path && query == u.RawQuery && path != "" && path != "/" {
		return "", "", "", liberrors.ErrServerInvalidSetupPath{}
	}

	return path, query, "0", nil
}

// mediaByTrackID returns the media with the given track ID and its index.
func mediaByTrackID(medias []*description.Media, trackID string) (*description.Media, int) {
	if trackID == "" {
		return medias[0], 0
	}

	id, err := strconv.ParseUint(trackID, 10, 31)
	if err != nil || int(id) >= len(medias) {
		return nil, 0
	}

	return medias[id], int(id)
}
