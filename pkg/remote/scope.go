package remote

// withErrorScope runs fn and, if it fails, maps the error through mapper
// and attaches remotePath/localPath context before returning it. This is
// the Go stand-in for a context-manager: the path context is folded into
// the error on failure and discarded on success. A panic in fn is not
// recovered here and propagates without path context.
func withErrorScope[T any](mapper *ErrorMapper, remotePath, localPath string, fn func() (T, error)) (T, error) {
	result, err := fn()
	if err == nil {
		return result, nil
	}
	mapped := mapper.Map(err)
	return result, mapped.WithPaths(remotePath, localPath)
}

// withErrorScopeVoid is withErrorScope for operations with no result value.
func withErrorScopeVoid(mapper *ErrorMapper, remotePath, localPath string, fn func() error) error {
	_, err := withErrorScope(mapper, remotePath, localPath, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
