package replay

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// staticAssets is the allowlisted set of small assets the replay UI serves
// for itself, keyed by the {name} path segment. Anything not in this map
// is a 404, so the archive-URL path space can never be shadowed by an
// unexpected asset name.
var staticAssets = map[string]struct {
	contentType string
	body        string
}{
	"style.css": {
		contentType: "text/css; charset=utf-8",
		body:        `body{font-family:sans-serif}.crystal-banner{background:#222;color:#eee}`,
	},
	"logo.svg": {
		contentType: "image/svg+xml",
		body:        `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 24 24"><path d="M12 2l6 6-6 6-6-6z"/></svg>`,
	},
}

func (s *Server) handleStaticAsset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	asset, ok := staticAssets[name]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", asset.contentType)
	w.Header().Set("Cache-Control", "max-age=86400")
	w.Write([]byte(asset.body))
}

// handlePinDateScript serves a snippet that monkey-patches the page's Date
// constructor to pin new Date() (and Date.now()) to the archived
// millisecond timestamp t, per spec.md §4.7.
func (s *Server) handlePinDateScript(w http.ResponseWriter, r *http.Request) {
	t := r.URL.Query().Get("t")
	if t == "" || strings.ContainsAny(t, "<>'\"") {
		http.Error(w, "missing or invalid t", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	fmt.Fprintf(w, pinDateScriptTemplate, t)
}

const pinDateScriptTemplate = `(function(){
  var pinned = %s;
  var RealDate = Date;
  function PinnedDate() {
    if (arguments.length === 0) return new RealDate(pinned);
    return new (Function.prototype.bind.apply(RealDate, [null].concat(Array.prototype.slice.call(arguments))))();
  }
  PinnedDate.prototype = RealDate.prototype;
  PinnedDate.now = function() { return pinned; };
  PinnedDate.parse = RealDate.parse;
  PinnedDate.UTC = RealDate.UTC;
  window.Date = PinnedDate;
})();
`
