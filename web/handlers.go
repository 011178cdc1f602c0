package web

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"multisvg/models"
	"multisvg/workflow"

	"github.com/cespare/xxhash/v2"
)

func (s *Server) landing(w http.ResponseWriter, r *http.Request) *Response {
	sent := r.URL.Query().Get("contact") == "sent"
	return &Response{Component: Layout(s.site, layoutOpts{Title: s.site.Brand}, Landing(s.site, sent))}
}

func (s *Server) documentation(w http.ResponseWriter, r *http.Request) *Response {
	return &Response{Component: Layout(s.site, layoutOpts{Title: s.site.Docs.Title}, Documentation(s.site))}
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) *Response {
	return &Response{
		Code:      http.StatusNotFound,
		Component: Layout(s.site, layoutOpts{Title: "Not found"}, ErrorPage(get404())),
	}
}

func (s *Server) converterPage(w http.ResponseWriter, r *http.Request) *Response {
	sess := s.sessions.Get(w, r)
	snap := sess.ctrl.Snapshot()

	opts := layoutOpts{Title: s.site.Product + " Converter"}
	if snap.State == workflow.Processing {
		opts.RefreshSecs = 1
	}

	view := converterView{Product: s.site.Product, Snap: snap, Notice: sess.takeNotice()}
	return &Response{Component: Layout(s.site, opts, Converter(view))}
}

// upload is the file part of a converter form, if one was sent.
type upload struct {
	name    string
	content []byte
}

func readForm(w http.ResponseWriter, r *http.Request) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		if !errors.Is(err, http.ErrNotMultipart) {
			return nil, fmt.Errorf("failed to parse form: %w", err)
		}
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("failed to parse form: %w", err)
		}
		return nil, nil
	}

	file, header, err := r.FormFile(models.FieldFile)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	return &upload{name: header.Filename, content: data}, nil
}

func noticeFor(err error) string {
	switch {
	case errors.Is(err, workflow.ErrUnsupportedFile):
		return "Only .svg files can be converted."
	case errors.Is(err, workflow.ErrBusy):
		return "A conversion is already in progress."
	case errors.Is(err, workflow.ErrNoFile):
		return "Please choose an SVG file first."
	case errors.Is(err, models.ErrInvalidParams):
		return "Please check the conversion parameters: " + err.Error()
	default:
		return "Something went wrong, please try again."
	}
}

// applyForm selects the uploaded file (if any) and the posted parameters.
func applyForm(w http.ResponseWriter, r *http.Request, sess *session) error {
	up, err := readForm(w, r)
	if err != nil {
		return err
	}

	if up != nil {
		if err := sess.ctrl.SelectFile(r.Context(), up.name, up.content); err != nil {
			return err
		}
	}

	params, err := models.ParseParams(r.Form, sess.ctrl.Snapshot().Params)
	if err != nil {
		return err
	}
	return sess.ctrl.SetParams(params)
}

func (s *Server) converterRedirect(sess *session, err error) *Response {
	resp := &Response{Redirect: "/converter"}
	if err != nil {
		sess.setNotice(noticeFor(err))
		if !isGuard(err) {
			resp.Error = err
		}
	}
	return resp
}

func isGuard(err error) bool {
	return errors.Is(err, workflow.ErrBusy) ||
		errors.Is(err, workflow.ErrNoFile) ||
		errors.Is(err, workflow.ErrUnsupportedFile) ||
		errors.Is(err, models.ErrInvalidParams)
}

func (s *Server) selectFile(w http.ResponseWriter, r *http.Request) *Response {
	sess := s.sessions.Get(w, r)

	up, err := readForm(w, r)
	if err != nil {
		return s.converterRedirect(sess, err)
	}
	if up == nil {
		return s.converterRedirect(sess, workflow.ErrNoFile)
	}

	if err := sess.ctrl.SelectFile(r.Context(), up.name, up.content); err != nil {
		return s.converterRedirect(sess, err)
	}

	params, err := models.ParseParams(r.Form, sess.ctrl.Snapshot().Params)
	if err == nil {
		err = sess.ctrl.SetParams(params)
	}
	return s.converterRedirect(sess, err)
}

func (s *Server) updateParams(w http.ResponseWriter, r *http.Request) *Response {
	sess := s.sessions.Get(w, r)

	if err := r.ParseForm(); err != nil {
		return s.converterRedirect(sess, err)
	}

	params, err := models.ParseParams(r.Form, sess.ctrl.Snapshot().Params)
	if err == nil {
		err = sess.ctrl.SetParams(params)
	}
	return s.converterRedirect(sess, err)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) *Response {
	sess := s.sessions.Get(w, r)

	if err := applyForm(w, r, sess); err != nil {
		return s.converterRedirect(sess, err)
	}

	_, err := sess.ctrl.Submit(r.Context())
	return s.converterRedirect(sess, err)
}

func (s *Server) clear(w http.ResponseWriter, r *http.Request) *Response {
	sess := s.sessions.Get(w, r)
	return s.converterRedirect(sess, sess.ctrl.Clear(r.Context()))
}

type statusView struct {
	workflow.Snapshot
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

func newStatusView(snap workflow.Snapshot) statusView {
	return statusView{Snapshot: snap, ElapsedSeconds: snap.Elapsed.Seconds()}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) *Response {
	sess := s.sessions.Get(w, r)
	return &Response{JSON: newStatusView(sess.ctrl.Snapshot())}
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request) *Response {
	data, err := s.previews.Open(r.Context(), r.PathValue("id"))
	if errors.Is(err, workflow.ErrPreviewNotFound) {
		return s.notFound(w, r)
	}
	if err != nil {
		return &Response{
			Error:     err,
			Code:      http.StatusInternalServerError,
			Component: Layout(s.site, layoutOpts{Title: "Error"}, ErrorPage(get500())),
		}
	}

	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(data))
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, max-age=300")
	// Uploaded markup is rendered as an image only, never as a document.
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; sandbox")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return nil
	}

	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("[HTTP] Failed to write preview: %v", err)
	}
	return nil
}

func (s *Server) contact(w http.ResponseWriter, r *http.Request) *Response {
	if err := r.ParseForm(); err != nil {
		return s.badRequest("Please fill in the contact form.", err)
	}

	name := strings.TrimSpace(r.PostForm.Get("name"))
	email := strings.TrimSpace(r.PostForm.Get("email"))
	message := strings.TrimSpace(r.PostForm.Get("message"))
	if name == "" || message == "" || !strings.Contains(email, "@") {
		return s.badRequest("Please fill in your name, a valid email and a message.", nil)
	}

	if s.history != nil {
		if err := s.history.InsertContactMessage(r.Context(), name, email, message); err != nil {
			return &Response{
				Error:     err,
				Code:      http.StatusInternalServerError,
				Component: Layout(s.site, layoutOpts{Title: "Error"}, ErrorPage(get500())),
			}
		}
	} else {
		log.Printf("[Contact] Message from %s <%s>: %d bytes", name, email, len(message))
	}

	return &Response{Redirect: "/?contact=sent#contactForm"}
}

func (s *Server) badRequest(msg string, err error) *Response {
	return &Response{
		Error:     err,
		Code:      http.StatusBadRequest,
		Component: Layout(s.site, layoutOpts{Title: "Bad request"}, ErrorPage(get400(msg))),
	}
}
