package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"vidgend/internal/validate"
)

// parseGenerateForm decodes the multipart form shared by /generate and
// /jobs into a RawRequest. Numeric fields stay nil when omitted so the
// validator can substitute per-task defaults.
func parseGenerateForm(r *http.Request) (validate.RawRequest, error) {
	var raw validate.RawRequest

	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		return raw, errBadRequest("invalid multipart form: " + err.Error())
	}

	raw.Task = r.FormValue("task")
	raw.Prompt = r.FormValue("prompt")
	raw.Size = r.FormValue("size")

	if v := r.FormValue("frame_num"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return raw, errBadRequest("frame_num must be an integer")
		}
		raw.FrameCount = &n
	}
	if v := r.FormValue("seed"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return raw, errBadRequest("seed must be an integer")
		}
		raw.Seed = &n
	}
	if v := r.FormValue("sample_steps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return raw, errBadRequest("sample_steps must be an integer")
		}
		raw.SampleSteps = &n
	}
	if v := r.FormValue("guide_scale"); v != "" {
		g, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return raw, errBadRequest("guide_scale must be a number")
		}
		raw.GuideScale = &g
	}

	file, _, err := r.FormFile("image")
	switch {
	case err == nil:
		defer file.Close()
		data, rerr := io.ReadAll(file)
		if rerr != nil {
			return raw, errBadRequest("failed to read image: " + rerr.Error())
		}
		raw.Image = data
	case errors.Is(err, http.ErrMissingFile):
		// optional for t2v tasks; the validator enforces presence
	default:
		return raw, errBadRequest("invalid image upload: " + err.Error())
	}

	return raw, nil
}
