package urlnorm

// Normalization vs. alias ordering.
//
// Normalization always runs first; alias rewriting (model.ApplyAlias) is
// applied afterward, to the already-canonical URL. The pair (original
// request URL, final rewritten URL) is treated as the effective rewrite:
// nothing rewrites an already-aliased URL a second time through a
// different alias.
