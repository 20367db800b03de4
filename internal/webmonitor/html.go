package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Proximity Relay Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; background: #111; color: #eee; margin: 0; }
        .header { display: flex; gap: 12px; align-items: center; padding: 12px 16px; background: #1d1d1d; }
        .badge { padding: 2px 10px; border-radius: 10px; background: #444; }
        .badge.near { background: #c62828; }
        .badge.far { background: #2e7d32; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; padding: 16px; }
        img { width: 100%; border-radius: 6px; background: #000; }
        pre { background: #1d1d1d; padding: 10px; border-radius: 6px; overflow: auto; max-height: 70vh; }
    </style>
</head>
<body>
    <div class="header">
        <strong>Proximity Relay</strong>
        <span class="badge" id="stage">waiting...</span>
        <span id="tick"></span>
        <span id="payload"></span>
    </div>
    <div class="grid">
        <div><img src="/stream" alt="annotated stream"></div>
        <div>
            <h3>Latest event</h3>
            <pre id="event">{}</pre>
        </div>
    </div>
    <script>
        const stage = document.getElementById("stage");
        const tick = document.getElementById("tick");
        const payload = document.getElementById("payload");
        const eventBox = document.getElementById("event");
        const source = new EventSource("/api/stage/stream");
        source.onmessage = (msg) => {
            const ev = JSON.parse(msg.data);
            stage.textContent = ev.stage;
            stage.className = "badge " + ev.stage;
            tick.textContent = "tick " + ev.tick;
            if (ev.payload) {
                payload.textContent = "sent " + ev.payload + (ev.dispatch_error ? " (failed)" : "");
            }
            eventBox.textContent = JSON.stringify(ev, null, 2);
        };
    </script>
</body>
</html>
`
