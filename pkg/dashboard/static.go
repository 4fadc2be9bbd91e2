package dashboard

// Static assets for the dashboard, embedded as strings.

// getStaticAsset returns a static asset by name.
// Returns the content, content type, and whether the asset was found.
func getStaticAsset(name string) (content string, contentType string, ok bool) {
	switch name {
	case "style.css":
		return cssStyles, "text/css", true
	case "app.js":
		return jsApp, "application/javascript", true
	default:
		return "", "", false
	}
}

// Most styling comes from the Tailwind CDN.
const cssStyles = `
::-webkit-scrollbar { width: 8px; height: 8px; }
::-webkit-scrollbar-track { background: #1f2937; }
::-webkit-scrollbar-thumb { background: #4b5563; border-radius: 4px; }

.mono { font-family: ui-monospace, SFMono-Regular, Menlo, Monaco, Consolas, monospace; }

.program {
    max-height: 480px;
    overflow: auto;
    white-space: pre-wrap;
    word-break: break-all;
    padding: 12px;
    background-color: #111827;
    border: 1px solid #374151;
    border-radius: 6px;
}
`

const jsApp = `
(function() {
    'use strict';

    const refreshInterval = 5000;

    document.addEventListener('DOMContentLoaded', function() {
        updateTime();
        setInterval(updateTime, 1000);
        if (window.location.pathname === '/') {
            setInterval(refreshStatus, refreshInterval);
        }
    });

    function updateTime() {
        const el = document.getElementById('current-time');
        if (el) el.textContent = new Date().toUTCString();
    }

    async function refreshStatus() {
        try {
            const resp = await fetch('/api/status');
            if (!resp.ok) throw new Error('status ' + resp.status);
            const data = await resp.json();

            setText('runs', fmt(data.runs));
            setText('cache-hits', fmt(data.cacheHits));
            setText('hit-rate', (data.hitRate || 0).toFixed(1));
            setText('faults', fmt(data.faults));
            setText('searches', fmt(data.searches));
            setText('steps-total', fmt(data.stepsTotal));
            setText('cached-count', fmt(data.cachedCount));
            setText('uptime', data.uptime);
            setText('node-state', data.nodeStatus);
            setIndicator(data.isRunning);
        } catch (e) {
            console.error('Failed to refresh status:', e);
            setIndicator(false);
        }
    }

    function setText(id, value) {
        const el = document.getElementById(id);
        if (el) el.textContent = value;
    }

    function setIndicator(running) {
        const el = document.getElementById('node-status');
        if (!el) return;
        el.querySelector('span:first-child').className =
            'w-2 h-2 rounded-full ' + (running ? 'bg-green-500' : 'bg-red-500');
        el.querySelector('span:last-child').textContent = running ? 'Running' : 'Unreachable';
    }

    function fmt(n) {
        if (n === undefined || n === null) return '0';
        return n.toLocaleString();
    }
})();
`
