// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bam provides record helpers, genome partitions and coordinates that
// augment the BAM and SAM packages in github.com/grailbio/hts.
package bam
