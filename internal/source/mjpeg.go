package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"cinegrid/internal/cine"
	"cinegrid/internal/logging"
)

const cineAccept = "multipart/x-mixed-replace, multipart/mixed;q=0.9"

// FetchFrameSequence downloads and decodes the fast-path sequence for inst.
// progress is called after every decoded part.
func (c *Client) FetchFrameSequence(ctx context.Context, inst cine.Instance, progress func(done, total int)) ([]cine.Frame, error) {
	target := c.CineURL(inst)
	resp, err := c.get(ctx, target, cineAccept)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	boundary, err := multipartBoundary(resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("instance %s: %w", inst.Key(), err)
	}
	total := inst.NumberOfFrames
	frames := make([]cine.Frame, 0, total)
	reader := multipart.NewReader(resp.Body, boundary)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("instance %s: read part %d: %w", inst.Key(), len(frames), err)
		}
		if len(frames) == total {
			_ = part.Close()
			return nil, fmt.Errorf("instance %s: sequence has more than %d frames", inst.Key(), total)
		}
		frame, err := decodePart(part, len(frames))
		_ = part.Close()
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", inst.Key(), err)
		}
		frames = append(frames, frame)
		if progress != nil {
			progress(len(frames), total)
		}
	}
	c.logger.Debug("fast-path sequence downloaded",
		logging.Instance(inst.Key()),
		logging.Int("frames", len(frames)),
	)
	return frames, nil
}

func decodePart(part *multipart.Part, index int) (cine.Frame, error) {
	if ct := part.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err == nil && mediaType != "image/jpeg" {
			return cine.Frame{}, fmt.Errorf("frame %d: unexpected content type %q", index, mediaType)
		}
	}
	data, err := io.ReadAll(part)
	if err != nil {
		return cine.Frame{}, fmt.Errorf("frame %d: read: %w", index, err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return cine.Frame{}, fmt.Errorf("frame %d: decode jpeg: %w", index, err)
	}
	return cine.Frame{Index: index, Image: img, Encoded: data}, nil
}

func multipartBoundary(contentType string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("parse content type %q: %w", contentType, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", fmt.Errorf("expected multipart body, got %q", mediaType)
	}
	boundary := strings.TrimPrefix(params["boundary"], "--")
	if boundary == "" {
		return "", fmt.Errorf("content type %q has no boundary", contentType)
	}
	return boundary, nil
}
