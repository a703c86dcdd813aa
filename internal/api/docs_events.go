package api

// eventsDocsHTML documents the SSE and WebSocket streams, which OpenAPI
// cannot describe.
const eventsDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Event Streams · Kwitch</title>
  <style>
    body { margin: 0 auto; max-width: 760px; padding: 24px; background: #0b0e0f; color: #d8dee0; font: 14px/1.6 system-ui, sans-serif; }
    a { color: #53fc18; }
    h1, h2 { color: #fff; }
    h2 { margin-top: 32px; border-bottom: 1px solid #24292b; }
    code, pre { font-family: ui-monospace, monospace; background: #151a1c; border-radius: 4px; }
    code { padding: 1px 4px; }
    pre { padding: 12px; overflow-x: auto; }
    pre code { padding: 0; }
    .route { color: #53fc18; }
    .note { border-left: 3px solid #53fc18; padding-left: 12px; }
    table { border-collapse: collapse; }
    th, td { padding: 4px 12px; border-bottom: 1px solid #24292b; text-align: left; }
  </style>
</head>
<body>
<p><a href="/docs">← REST API docs</a></p>
<h1>Event Streams</h1>
<p>Follow channel status as the daemon polls Kick.</p>

<h2 id="overview">Overview</h2>
<p>Every completed poll persists the sorted channel collection and broadcasts it as
<code>CHANNELS_UPDATED</code>. Each stream starts with a <code>GET_CHANNELS_RESPONSE</code>
holding the cached collection, so a client never waits a full interval for its first render.</p>
<p class="note">Delivery is best effort. A client that falls behind loses messages and
should resynchronize with <code>GET /api/v1/channels</code>.</p>

<h2 id="messages">Messages</h2>
<table>
  <tr><th>type</th><th>direction</th><th>payload</th></tr>
  <tr><td><code>CHANNELS_UPDATED</code></td><td>daemon → client</td><td><code>channels</code></td></tr>
  <tr><td><code>GET_CHANNELS_RESPONSE</code></td><td>daemon → client</td><td><code>channels</code></td></tr>
  <tr><td><code>GET_CHANNELS</code></td><td>client → daemon</td><td>none</td></tr>
  <tr><td><code>FORCE_REFRESH</code></td><td>client → daemon</td><td>none</td></tr>
  <tr><td><code>WATCH_KICK_CHANNEL</code></td><td>client → daemon</td><td><code>slug</code></td></tr>
</table>

<h2 id="sse">Server-Sent Events</h2>
<p><code class="route">GET /api/v1/events</code></p>
<p>Optional <code>types</code> query parameter: a comma separated list of message types to keep.</p>
<pre><code>event: CHANNELS_UPDATED
data: {"type":"CHANNELS_UPDATED","channels":[{"slug":"alpha","isLive":true,...}]}</code></pre>

<h2 id="ws">WebSocket</h2>
<p><code class="route">GET /api/v1/ws</code></p>
<p>Receives the same messages as the SSE stream and accepts command messages. A
<code>GET_CHANNELS</code> command is answered on the same connection.</p>

<h2 id="examples">Examples</h2>
<h3>curl</h3>
<pre><code>curl -N http://127.0.0.1:8199/api/v1/events?types=CHANNELS_UPDATED</code></pre>
<h3>CLI</h3>
<pre><code>kwitch follow</code></pre>
</body>
</html>`
