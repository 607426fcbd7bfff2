/*
Package analyzer derives topics, tokens and a content class from a
detection verdict's sampled bytes.

Analysis dispatches on the detected kind: HTML documents are parsed for
title, meta description and readable text; plain text and documents use
their first lines (subtitle cue arrows remap the class to video); images
and videos fall back to filename tokens plus optional tagger enrichment.
Kinds outside this set yield no analysis.

Tokenization NFKD-folds accents, lowercases, keeps alphabetic runs of
three or more characters, and drops language stopwords. Topics are the
five highest-frequency non-generic tokens; a configured tagger's topics
rank first. Tagger failures degrade to no enrichment and never propagate.
*/
package analyzer
