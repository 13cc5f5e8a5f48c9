package plugin

// Package plugin provides JavaScript hooks evaluated by the client.
//
// Hooks are JavaScript files loaded from a directory at startup.
// Each hook must define:
//   - A @hook directive naming the hook point
//   - An execute(value) function
//
// Hook points:
//   - queueFilter: receives the request envelope about to be queued while
//     offline; a falsy return drops it
//   - notification: receives every push delivered to the CLI subscriber; a
//     falsy return hides it
//
// Example hook:
//
//	// @hook queueFilter
//	function execute(request) {
//	    return request.controller !== "auth" && request.action !== "delete";
//	}
