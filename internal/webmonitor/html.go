package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Class Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; font-family: system-ui, sans-serif; background: #111; color: #eee; }
        .header { display: flex; justify-content: space-between; align-items: center; padding: 12px 20px; background: #1b1b1b; }
        .title { font-size: 20px; font-weight: 600; }
        .badge { padding: 4px 10px; border-radius: 12px; font-size: 13px; background: #444; }
        .badge.Normal { background: #1e7d32; }
        .badge.Sleeping { background: #b71c1c; }
        .badge.Eating, .badge.Using-Phone { background: #b58900; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; padding: 16px; }
        .panel { background: #1b1b1b; border-radius: 8px; padding: 12px; }
        .panel h2 { margin: 0 0 8px; font-size: 15px; color: #aaa; }
        img#stream { width: 100%; height: auto; background: #000; }
        table { width: 100%; border-collapse: collapse; font-size: 14px; }
        td { padding: 4px 0; border-bottom: 1px solid #2a2a2a; }
        td.value { text-align: right; }
        ul#events { list-style: none; margin: 0; padding: 0; max-height: 320px; overflow-y: auto; font-size: 14px; }
        ul#events li { padding: 4px 0; border-bottom: 1px solid #2a2a2a; }
        .toast { position: fixed; bottom: 20px; right: 20px; padding: 10px 16px; background: #b71c1c; border-radius: 6px; display: none; }
    </style>
</head>
<body>
    <div class="header">
        <div class="title">Class Monitor <span id="student"></span></div>
        <span class="badge" id="behavior-badge">Waiting for data...</span>
    </div>

    <div class="grid">
        <div class="panel">
            <h2>Live Feed</h2>
            <img id="stream" src="/stream" alt="Annotated live stream">
        </div>
        <div>
            <div class="panel">
                <h2>Session</h2>
                <table>
                    <tr><td>Engagement</td><td class="value" id="engagement">-</td></tr>
                    <tr><td>Frames</td><td class="value" id="frames">-</td></tr>
                    <tr><td>Sleeping alerts</td><td class="value" id="count-Sleeping">0</td></tr>
                    <tr><td>Using Phone alerts</td><td class="value" id="count-Using-Phone">0</td></tr>
                    <tr><td>Eating alerts</td><td class="value" id="count-Eating">0</td></tr>
                </table>
            </div>
            <div class="panel" style="margin-top:16px;">
                <h2>Alerts</h2>
                <ul id="events"></ul>
            </div>
        </div>
    </div>
    <div class="toast" id="toast"></div>

    <script>
        const slug = (label) => label.replace(/ /g, '-');

        function renderStatus(status) {
            document.getElementById('student').textContent = '- ' + status.student;
            const badge = document.getElementById('behavior-badge');
            badge.textContent = status.behavior || 'Waiting for data...';
            badge.className = 'badge ' + slug(status.behavior || '');
            document.getElementById('engagement').textContent = status.engagement_percent.toFixed(1) + '%';
            document.getElementById('frames').textContent = status.summary.total_frames;
            for (const label of ['Sleeping', 'Using Phone', 'Eating']) {
                const counts = status.alert_counts || {};
                document.getElementById('count-' + slug(label)).textContent = counts[label] || 0;
            }
            const list = document.getElementById('events');
            list.innerHTML = '';
            for (const ev of (status.recent_events || []).slice().reverse()) {
                addEvent(new Date(ev.time).toLocaleTimeString() + ': ' + ev.behavior, false);
            }
        }

        function addEvent(text, prepend) {
            const list = document.getElementById('events');
            const li = document.createElement('li');
            li.textContent = text;
            if (prepend) {
                list.prepend(li);
            } else {
                list.appendChild(li);
            }
        }

        function toast(text) {
            const el = document.getElementById('toast');
            el.textContent = text;
            el.style.display = 'block';
            setTimeout(() => { el.style.display = 'none'; }, 5000);
        }

        const statusSource = new EventSource('/api/status/stream');
        statusSource.onmessage = (e) => renderStatus(JSON.parse(e.data).status);

        const eventSource = new EventSource('/api/events/stream');
        eventSource.onmessage = (e) => addEvent(JSON.parse(e.data).message, true);

        function connectWS() {
            const proto = location.protocol === 'https:' ? 'wss' : 'ws';
            const ws = new WebSocket(proto + '://' + location.host + '/ws');
            ws.onmessage = (e) => {
                const msg = JSON.parse(e.data);
                if (msg.type === 'alert') {
                    toast(msg.payload.message);
                }
            };
            ws.onclose = () => setTimeout(connectWS, 3000);
        }
        connectWS();
    </script>
</body>
</html>
`
