package cdpdom

import (
	"encoding/json"
	"fmt"

	"github.com/dgnsrekt/kwitch/internal/dom"
)

// BindingName is the page-side function the observer script calls to
// report events back over CDP.
const BindingName = "__kwitchEmit"

const codeNotFound = "not_found"

// evalEnvelope is what every DOM script returns, JSON encoded.
type evalEnvelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func wrapJSEval(body string) string {
	return `(function(){
try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error:String(err && err.message || err)});
}
})()`
}

const jsFirst = `var el = document.querySelector(sel);
if (!el) return JSON.stringify({ok:false,error:"` + codeNotFound + `"});
`

func queryScript(selector string) string {
	return wrapJSEval(`var sel = ` + jsJSON(selector) + `;
return JSON.stringify({ok:true,data:document.querySelectorAll(sel).length});`)
}

func insertScript(selector string, where dom.Placement, html string) string {
	return wrapJSEval(`var sel = ` + jsJSON(selector) + `;
` + jsFirst + `el.insertAdjacentHTML(` + jsJSON(adjacentPosition(where)) + `, ` + jsJSON(html) + `);
return JSON.stringify({ok:true});`)
}

func replaceScript(selector, html string) string {
	return wrapJSEval(`var sel = ` + jsJSON(selector) + `;
` + jsFirst + `el.innerHTML = ` + jsJSON(html) + `;
return JSON.stringify({ok:true});`)
}

func setClassScript(selector, class string, on bool) string {
	return wrapJSEval(`var sel = ` + jsJSON(selector) + `;
var all = document.querySelectorAll(sel);
if (!all.length) return JSON.stringify({ok:false,error:"` + codeNotFound + `"});
all.forEach(function(n){ n.classList.toggle(` + jsJSON(class) + `, ` + jsJSON(on) + `); });
return JSON.stringify({ok:true});`)
}

func removeScript(selector string) string {
	return wrapJSEval(`var sel = ` + jsJSON(selector) + `;
document.querySelectorAll(sel).forEach(function(n){ n.remove(); });
return JSON.stringify({ok:true});`)
}

func widthScript(selector string) string {
	return wrapJSEval(`var sel = ` + jsJSON(selector) + `;
` + jsFirst + `return JSON.stringify({ok:true,data:el.clientWidth});`)
}

func rectScript(selector string) string {
	return wrapJSEval(`var sel = ` + jsJSON(selector) + `;
` + jsFirst + `var r = el.getBoundingClientRect();
return JSON.stringify({ok:true,data:{top:r.top,left:r.left,right:r.right,bottom:r.bottom,width:r.width,height:r.height}});`)
}

// observerScript installs page-side observers that report through the
// binding. Running it again replaces the previous observers. Mutations inside
// the panel or tooltip, and records that only add or remove those nodes, are
// ignored.
func observerScript(rootSelector string) string {
	return `(function(rootSel){
var w = window;
if (w.__kwitchObs) { w.__kwitchObs.mo.disconnect(); if (w.__kwitchObs.ro) w.__kwitchObs.ro.disconnect(); }
function emit(ev) { try { w.` + BindingName + `(JSON.stringify(ev)); } catch (_) {} }
function own(n) {
  for (; n; n = n.parentNode) {
    if (n.nodeType === 1 && (n.id === "kwitch-tooltip" || n.classList.contains("kwitch-section"))) return true;
  }
  return false;
}
function ownNodes(list) {
  for (var i = 0; i < list.length; i++) if (!own(list[i])) return false;
  return true;
}
function ownRecord(m) {
  if (own(m.target)) return true;
  var n = m.addedNodes.length + m.removedNodes.length;
  return n > 0 && ownNodes(m.addedNodes) && ownNodes(m.removedNodes);
}
var state = {root: null, ro: null, timer: 0};
function watchRoot() {
  var root = document.querySelector(rootSel);
  if (root === state.root) return;
  if (state.ro) state.ro.disconnect();
  state.root = root;
  state.ro = null;
  if (root && w.ResizeObserver) {
    state.ro = new ResizeObserver(function(){ emit({kind:"resize",width:root.clientWidth}); });
    state.ro.observe(root);
  }
}
var mo = new MutationObserver(function(records){
  var foreign = false;
  for (var i = 0; i < records.length && !foreign; i++) {
    if (!ownRecord(records[i])) foreign = true;
  }
  if (!foreign) return;
  clearTimeout(state.timer);
  state.timer = setTimeout(function(){ watchRoot(); emit({kind:"mutation"}); }, 100);
});
mo.observe(document.body || document.documentElement, {childList:true,subtree:true});
watchRoot();
w.__kwitchObs = {mo: mo, get ro() { return state.ro; }};

if (w.__kwitchListeners) return;
w.__kwitchListeners = true;
function card(n) { return n && n.closest ? n.closest(".kwitch-channel") : null; }
document.addEventListener("mouseover", function(e){
  var c = card(e.target);
  if (c && !c.contains(e.relatedTarget)) emit({kind:"pointerenter",slug:c.dataset.slug});
}, true);
document.addEventListener("mouseout", function(e){
  var c = card(e.target);
  if (c && !c.contains(e.relatedTarget)) emit({kind:"pointerleave",slug:c.dataset.slug});
}, true);
document.addEventListener("click", function(e){
  if (e.target.closest && e.target.closest(".kwitch-toggle")) {
    e.preventDefault();
    emit({kind:"toggle"});
    return;
  }
  var c = card(e.target);
  if (!c) return;
  e.preventDefault();
  var control = !!(e.target.closest && e.target.closest("button"));
  emit({kind:"click",slug:c.dataset.slug,control:control});
}, true);
})(` + jsJSON(rootSelector) + `);`
}

// adjacentPosition maps a placement onto insertAdjacentHTML's position names.
func adjacentPosition(p dom.Placement) string {
	switch p {
	case dom.Before:
		return "beforebegin"
	case dom.Prepend:
		return "afterbegin"
	case dom.After:
		return "afterend"
	default:
		return "beforeend"
	}
}

// decodeResult unpacks a script result into out.
func decodeResult(selector, raw string, out any) error {
	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return fmt.Errorf("cdpdom: invalid evaluation envelope: %w", err)
	}
	if !env.OK {
		if env.Error == codeNotFound {
			return fmt.Errorf("%w: %s", dom.ErrNodeNotFound, selector)
		}
		return fmt.Errorf("cdpdom: evaluation failed: %s", env.Error)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("cdpdom: invalid evaluation data: %w", err)
	}
	return nil
}

// decodeEvent parses a binding payload. Unknown kinds are dropped.
func decodeEvent(payload string) (dom.Event, bool) {
	var ev dom.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return dom.Event{}, false
	}
	switch ev.Kind {
	case dom.Mutation, dom.Resize, dom.PointerEnter, dom.PointerLeave, dom.Click, dom.Toggle:
		return ev, true
	}
	return dom.Event{}, false
}
