package browser

import (
	"fmt"
	"math/rand"
)

// webglVendors are plausible desktop GPU identities. One pair is picked per
// page so every scrape presents a stable but non-constant fingerprint.
var webglVendors = [][2]string{
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 580 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
}

// fingerprintJS builds the per-page anti-fingerprinting script that layers on
// top of the stealth baseline: canvas noise under 0.1 percent, a randomized
// WebGL vendor, sub-50ms timer jitter, and navigator.webdriver removal.
func fingerprintJS() string {
	vendor := webglVendors[rand.Intn(len(webglVendors))]
	return fmt.Sprintf(`() => {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });

	const origToDataURL = HTMLCanvasElement.prototype.toDataURL;
	HTMLCanvasElement.prototype.toDataURL = function (...args) {
		const ctx = this.getContext('2d');
		if (ctx && this.width > 0 && this.height > 0) {
			const img = ctx.getImageData(0, 0, this.width, this.height);
			const n = Math.max(1, Math.floor(img.data.length * 0.001));
			for (let i = 0; i < n; i++) {
				const idx = Math.floor(Math.random() * img.data.length);
				img.data[idx] = img.data[idx] ^ 1;
			}
			ctx.putImageData(img, 0, 0);
		}
		return origToDataURL.apply(this, args);
	};

	const vendor = %q;
	const renderer = %q;
	const patchGL = (proto) => {
		const orig = proto.getParameter;
		proto.getParameter = function (param) {
			if (param === 37445) return vendor;
			if (param === 37446) return renderer;
			return orig.call(this, param);
		};
	};
	if (window.WebGLRenderingContext) patchGL(WebGLRenderingContext.prototype);
	if (window.WebGL2RenderingContext) patchGL(WebGL2RenderingContext.prototype);

	const origNow = performance.now.bind(performance);
	performance.now = () => origNow() + Math.random() * 50;
}`, vendor[0], vendor[1])
}
