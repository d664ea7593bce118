package snapshot

// collectScript returns {fields, controls}. Each candidate lists its
// selectors from id-based down to positional; the positional one is always
// present so the list is never empty.
const collectScript = `(limit) => {
	const esc = (v) => (window.CSS && CSS.escape) ? CSS.escape(v) : String(v).replace(/([^a-zA-Z0-9_-])/g, "\\$1");
	const q = (v) => String(v).replace(/"/g, '\\"').replace(/\n/g, " ").trim();
	const visible = (el) => {
		const r = el.getBoundingClientRect();
		if (r.width === 0 && r.height === 0) return false;
		const s = window.getComputedStyle(el);
		return s.visibility !== "hidden" && s.display !== "none" && s.opacity !== "0";
	};
	const positional = (el) => {
		const parts = [];
		let cur = el;
		for (let depth = 0; cur && cur.tagName && depth < 4; depth++) {
			const tag = cur.tagName.toLowerCase();
			if (cur.id && depth > 0) { parts.unshift("#" + esc(cur.id)); break; }
			const parent = cur.parentElement;
			if (!parent) { parts.unshift(tag); break; }
			const same = Array.from(parent.children).filter(c => c.tagName === cur.tagName);
			parts.unshift(same.length > 1 ? tag + ":nth-of-type(" + (same.indexOf(cur) + 1) + ")" : tag);
			cur = parent;
		}
		return parts.join(" > ");
	};
	const labelFor = (el) => {
		if (el.labels && el.labels.length) return (el.labels[0].innerText || "").trim().slice(0, 80);
		const wrap = el.closest("label");
		return wrap ? (wrap.innerText || "").trim().slice(0, 80) : "";
	};
	const selectorsFor = (el) => {
		const tag = el.tagName.toLowerCase();
		const out = [];
		if (el.id) out.push("#" + esc(el.id));
		const name = el.getAttribute("name");
		if (name) out.push(tag + '[name="' + q(name) + '"]');
		for (const attr of ["data-testid", "data-test-id", "data-qa", "data-cy"]) {
			const v = el.getAttribute(attr);
			if (v) { out.push(tag + "[" + attr + '="' + q(v) + '"]'); break; }
		}
		const aria = el.getAttribute("aria-label");
		if (aria && aria.length < 80) out.push(tag + '[aria-label="' + q(aria) + '"]');
		const type = el.getAttribute("type");
		const ph = el.getAttribute("placeholder");
		if (type && ph) out.push(tag + '[type="' + q(type) + '"][placeholder="' + q(ph) + '"]');
		else if (ph) out.push(tag + '[placeholder="' + q(ph) + '"]');
		if (type) out.push(tag + '[type="' + q(type) + '"]');
		out.push(positional(el));
		return out;
	};

	const fields = [];
	const controls = [];
	const scan = (root) => {
		for (const el of root.querySelectorAll("input, textarea, select")) {
			if (fields.length >= limit) break;
			const type = (el.getAttribute("type") || "").toLowerCase();
			if (["hidden", "submit", "button", "image", "reset", "checkbox", "radio"].includes(type)) continue;
			fields.push({
				id: el.id || "",
				name: el.getAttribute("name") || "",
				type: type || el.tagName.toLowerCase(),
				placeholder: el.getAttribute("placeholder") || "",
				aria_label: el.getAttribute("aria-label") || "",
				label: labelFor(el),
				visible: visible(el),
				selectors: selectorsFor(el),
			});
		}
		for (const el of root.querySelectorAll("button, input[type=submit], input[type=button], [role=button], a")) {
			if (controls.length >= limit) break;
			const text = (el.innerText || el.value || el.getAttribute("aria-label") || "").trim().slice(0, 80);
			if (el.tagName === "A" && !text) continue;
			controls.push({
				tag: el.tagName.toLowerCase(),
				text: text,
				id: el.id || "",
				name: el.getAttribute("name") || "",
				type: (el.getAttribute("type") || "").toLowerCase(),
				aria_label: el.getAttribute("aria-label") || "",
				visible: visible(el),
				selectors: selectorsFor(el),
			});
		}
	};

	scan(document);
	for (const iframe of document.querySelectorAll("iframe")) {
		try {
			const doc = iframe.contentDocument || (iframe.contentWindow && iframe.contentWindow.document);
			if (doc) scan(doc);
		} catch (e) {
			// cross-origin iframe, skip
		}
	}
	return {fields: fields, controls: controls};
}`
