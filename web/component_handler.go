package web

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/a-h/templ"
)

// Response is what a route produces. Exactly one of Redirect, JSON or
// Component is rendered.
type Response struct {
	Error     error
	Code      int
	Redirect  string
	JSON      interface{}
	Component templ.Component
}

// ComponentHandler adapts a route function to http.Handler. A nil
// response means the route wrote to w itself.
type ComponentHandler func(http.ResponseWriter, *http.Request) *Response

func (ch ComponentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := ch(w, r)
	if resp == nil {
		return
	}

	if resp.Error != nil {
		log.Printf("[HTTP] %s %s: %v", r.Method, r.URL.Path, resp.Error)
	}

	if resp.Redirect != "" {
		http.Redirect(w, r, resp.Redirect, http.StatusSeeOther)
		return
	}

	code := resp.Code
	if code == 0 {
		code = http.StatusOK
	}

	if resp.JSON != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(resp.JSON); err != nil {
			log.Printf("[HTTP] Failed to encode response: %v", err)
		}
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := resp.Component.Render(r.Context(), w); err != nil {
		log.Printf("[HTTP] templ: failed to render template: %v", err)
	}
}

func jsonError(code int, message string, err error) *Response {
	return &Response{
		Error: err,
		Code:  code,
		JSON:  map[string]interface{}{"success": false, "message": message},
	}
}
