package browser

// stealthUA replaces the headless build's default user agent when stealth is
// on and the caller gave no override.
const stealthUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// stealthJS is installed as an init script so it runs before any page script.
// Each patch neutralizes one headless-detection signal: the webdriver flag,
// the empty plugins list, the empty languages list, the permissions-query
// tell, the missing chrome runtime object, and the webdriver flag as seen
// from a same-origin iframe.
const stealthJS = `(() => {
	Object.defineProperty(navigator, 'webdriver', {
		get: () => undefined,
		configurable: true,
	});

	Object.defineProperty(navigator, 'plugins', {
		get: () => {
			const plugins = [
				{ name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
				{ name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai', description: '' },
				{ name: 'Native Client', filename: 'internal-nacl-plugin', description: '' },
			];
			plugins.item = i => plugins[i] || null;
			plugins.namedItem = n => plugins.find(p => p.name === n) || null;
			plugins.refresh = () => {};
			return plugins;
		},
	});

	Object.defineProperty(navigator, 'languages', {
		get: () => ['en-US', 'en'],
	});

	const originalQuery = window.navigator.permissions.query.bind(window.navigator.permissions);
	window.navigator.permissions.query = (parameters) => (
		parameters.name === 'notifications'
			? Promise.resolve({ state: Notification.permission })
			: originalQuery(parameters)
	);

	if (!window.chrome) {
		window.chrome = {};
	}
	if (!window.chrome.runtime) {
		window.chrome.runtime = {
			connect: () => {},
			sendMessage: () => {},
			id: undefined,
		};
	}

	const patchFrame = (frame) => {
		try {
			Object.defineProperty(frame.contentWindow.navigator, 'webdriver', {
				get: () => undefined,
			});
		} catch (e) { /* cross-origin frames throw, nothing to hide there */ }
	};
	const observer = new MutationObserver((mutations) => {
		for (const mutation of mutations) {
			for (const node of mutation.addedNodes) {
				if (node.tagName === 'IFRAME') patchFrame(node);
			}
		}
	});
	if (document.documentElement) {
		observer.observe(document.documentElement, { childList: true, subtree: true });
	}
})();`
