/*Package interval parses genomic region restrictions, given either as
  samtools-style region strings or as BED files, and merges them into sorted,
  non-overlapping intervals.  Overlapping and touching intervals are merged,
  not tracked separately.  Positions fit in a PosType, which is int32 since
  that's what BAM files are limited to.
*/
package interval
