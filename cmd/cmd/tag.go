// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/antflydb/nerconll/lib/corpus"
	"github.com/antflydb/nerconll/lib/handle"
	"github.com/antflydb/nerconll/lib/ner"
	"github.com/spf13/cobra"
)

var tagFileCmd = &cobra.Command{
	Use:   "tag-file <model> <text-file>",
	Short: "Tag a text file with a trained extractor",
	Long: `Read a plain text file, run the extractor over it and print the label set
followed by every detection as TAG(id),  text.`,
	Args: cobra.ExactArgs(2),
	RunE: runTagFile,
}

var tagConllFileCmd = &cobra.Command{
	Use:   "tag-conll-file <model> <conll-file>",
	Short: "Re-tag a CoNLL file with a trained extractor",
	Long: `Read a CoNLL file and print a copy of it whose tag column holds the
extractor's predictions in BIO form.`,
	Args: cobra.ExactArgs(2),
	RunE: runTagConllFile,
}

func init() {
	rootCmd.AddCommand(tagFileCmd, tagConllFileCmd)
}

func runTagFile(cmd *cobra.Command, args []string) error {
	h, err := handle.LoadExtractor(args[0])
	if err != nil {
		return fmt.Errorf("couldn't load model file: %w", err)
	}
	defer func() { _ = handle.Free(h) }()

	text, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	return tagText(cmd.OutOrStdout(), h, string(text))
}

func tagText(w io.Writer, h *handle.Handle, text string) error {
	bw := bufio.NewWriter(w)
	numTags := h.NumTags()
	_, _ = fmt.Fprintf(bw, "NER tags: %d\n", numTags)
	for i := range numTags {
		_, _ = fmt.Fprintf(bw, "   %s\n", h.TagString(i))
	}

	dets := h.Extract(text)
	if dets == nil {
		return errors.New("extraction failed")
	}
	defer func() { _ = handle.Free(dets) }()

	n := dets.NumDetections()
	_, _ = fmt.Fprintf(bw, "num_dets: %d\n", n)
	for i := range n {
		begin := dets.DetectionPosition(i)
		end := begin + dets.DetectionLength(i)
		_, _ = fmt.Fprintf(bw, "   %s(%d),  %s\n", dets.DetectionTagString(i), dets.DetectionTag(i), text[begin:end])
	}
	return bw.Flush()
}

func runTagConllFile(cmd *cobra.Command, args []string) error {
	e, err := ner.LoadExtractor(args[0])
	if err != nil {
		return err
	}
	c, err := corpus.ReadFile(args[1], e.Labels().Codes())
	if err != nil {
		return err
	}
	return tagCorpus(cmd.OutOrStdout(), e, c)
}

func tagCorpus(w io.Writer, e *ner.Extractor, c *corpus.Corpus) error {
	tags := make([][]string, len(c.Sentences))
	for i, s := range c.Sentences {
		tags[i] = e.TagSentence(s.Tokens)
	}
	return corpus.Write(w, c, tags)
}
